package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pointbank-backend/internal/attendance"
	"github.com/angelmondragon/pointbank-backend/internal/points"
	pkgAuth "github.com/angelmondragon/pointbank-backend/pkg/auth"
	"github.com/angelmondragon/pointbank-backend/pkg/config"
	"github.com/angelmondragon/pointbank-backend/pkg/db/models"
	"github.com/angelmondragon/pointbank-backend/pkg/enums"
	"github.com/angelmondragon/pointbank-backend/pkg/logger"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

type stubPointsService struct {
	balance  *points.Balance
	consumed []points.ConsumePointsInput
	granted  []points.GrantPointsInput
}

func (s *stubPointsService) GrantPoints(_ context.Context, input points.GrantPointsInput) (*models.PointTranche, error) {
	s.granted = append(s.granted, input)
	return &models.PointTranche{ID: uuid.New(), UserID: input.UserID, GrantedAmount: input.Amount, RemainingBalance: input.Amount, Kind: input.Kind, Source: input.Source}, nil
}

func (s *stubPointsService) ConsumePoints(_ context.Context, input points.ConsumePointsInput) (*models.PointUsageRecord, error) {
	s.consumed = append(s.consumed, input)
	return &models.PointUsageRecord{ID: uuid.New(), UserID: input.UserID, PointsUsed: input.Amount, UsageType: input.UsageType}, nil
}

func (s *stubPointsService) GetPointBalance(context.Context, uuid.UUID) (*points.Balance, error) {
	return s.balance, nil
}

func (s *stubPointsService) CleanupExpiredPoints(context.Context) (*points.CleanupResult, error) {
	return &points.CleanupResult{}, nil
}

func (s *stubPointsService) ListUsageHistory(context.Context, points.ListUsageParams) (*points.UsageHistoryResult, error) {
	return &points.UsageHistoryResult{}, nil
}

type stubAttendanceService struct{}

func (stubAttendanceService) CheckIn(_ context.Context, userID uuid.UUID) (*attendance.CheckInResult, error) {
	return &attendance.CheckInResult{AmountGranted: 10}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", Port: "8080"},
		JWT: config.JWTConfig{Secret: "router-secret", Issuer: "pointbank", ExpirationMinutes: 60},
	}
}

func newTestRouter(t *testing.T, svc *stubPointsService) http.Handler {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "router-test"})
	return NewRouter(testConfig(), logg, stubPinger{}, nil, svc, stubAttendanceService{}, nil, nil, nil)
}

func mintToken(t *testing.T, role enums.MemberRole) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(testConfig().JWT, time.Now(), pkgAuth.AccessTokenPayload{
		UserID: uuid.New(),
		Role:   role,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestRouterHealthLive(t *testing.T) {
	router := newTestRouter(t, &stubPointsService{})
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
}

func TestRouterRejectsUnauthenticatedBalance(t *testing.T) {
	router := newTestRouter(t, &stubPointsService{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/points/balance", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestRouterServesBalanceForAuthenticatedUser(t *testing.T) {
	svc := &stubPointsService{balance: &points.Balance{TotalFreePoints: 10, TotalPaidPoints: 5, TotalPoints: 15}}
	router := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/points/balance", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, enums.MemberRoleUser))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Data points.Balance `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Data.TotalPoints != 15 {
		t.Fatalf("unexpected balance %+v", body.Data)
	}
}

func TestRouterConsumeCarriesRequestID(t *testing.T) {
	svc := &stubPointsService{}
	router := newTestRouter(t, svc)

	payload := `{"amount":5,"usage_type":"chat"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/points/consume", strings.NewReader(payload))
	req.Header.Set("Authorization", "Bearer "+mintToken(t, enums.MemberRoleUser))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", "req-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(svc.consumed) != 1 {
		t.Fatalf("expected one consume call, got %d", len(svc.consumed))
	}
	input := svc.consumed[0]
	if input.RequestID == nil || *input.RequestID != "req-123" {
		t.Fatalf("expected request id from header, got %v", input.RequestID)
	}
	if input.UsageType != enums.PointUsageTypeChat {
		t.Fatalf("unexpected usage type %s", input.UsageType)
	}
}

func TestRouterAdminGrantRequiresAdminRole(t *testing.T) {
	svc := &stubPointsService{}
	router := newTestRouter(t, svc)

	payload := `{"user_id":"` + uuid.NewString() + `","amount":100,"kind":"paid"}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/points/grant", strings.NewReader(payload))
	req.Header.Set("Authorization", "Bearer "+mintToken(t, enums.MemberRoleUser))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for user role got %d", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/admin/points/grant", strings.NewReader(payload))
	req2.Header.Set("Authorization", "Bearer "+mintToken(t, enums.MemberRoleAdmin))
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusCreated {
		t.Fatalf("expected 201 for admin got %d (%s)", rec2.Code, rec2.Body.String())
	}
	if len(svc.granted) != 1 {
		t.Fatalf("expected one grant, got %d", len(svc.granted))
	}
	if svc.granted[0].Source != enums.PointSourceAdminGrant {
		t.Fatalf("expected admin_grant source, got %s", svc.granted[0].Source)
	}
}

func TestRouterAttendanceCheckIn(t *testing.T) {
	router := newTestRouter(t, &stubPointsService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/attendance/check-in", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, enums.MemberRoleUser))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", rec.Code, rec.Body.String())
	}
}

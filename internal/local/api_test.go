package local

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/order-saga/internal/order/transport/http/handler"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type APISuite struct {
	suite.Suite
	app *fiber.App
}

func (s *APISuite) SetupTest() {
	rt, err := New(testConfig("stock"), zap.NewNop(), testCatalog)
	s.Require().NoError(err)
	s.app = rt.App()
}

func (s *APISuite) do(method, path string, body any) (int, []byte) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.app.Test(req, -1)
	s.Require().NoError(err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	return resp.StatusCode, raw
}

func (s *APISuite) decode(raw []byte) handler.OrderResponse {
	var order handler.OrderResponse
	s.Require().NoError(json.Unmarshal(raw, &order))
	return order
}

func validOrder() fiber.Map {
	return fiber.Map{
		"member_id":        1,
		"email":            "member@example.com",
		"shipping_address": "1 Main St",
		"items": []fiber.Map{
			{"product_id": 1, "seller_id": 10, "quantity": 2, "unit_price": 4500, "discount_value": 500},
		},
	}
}

func (s *APISuite) TestCreateRunsSagaToReady() {
	status, raw := s.do(http.MethodPost, "/api/orders", validOrder())
	s.Require().Equal(http.StatusCreated, status, string(raw))

	created := s.decode(raw)
	s.NotEmpty(created.ID)
	s.Equal(int64(8500), created.TotalAmount)
	s.Require().Len(created.Items, 1)
	s.Equal(int64(8500), created.Items[0].TotalPrice)

	status, raw = s.do(http.MethodGet, "/api/orders/"+created.ID, nil)
	s.Require().Equal(http.StatusOK, status)

	order := s.decode(raw)
	s.Equal("READY", order.Status)
	s.Equal("payment_captured", order.Stages["payment"].Outcome)
	s.True(strings.HasPrefix(order.Stages["shipping"].Reference, "TRK-"))

	status, raw = s.do(http.MethodPost, "/api/orders/"+created.ID+"/delivered", nil)
	s.Require().Equal(http.StatusOK, status)
	s.Equal("DONE", s.decode(raw).Status)

	status, _ = s.do(http.MethodPost, "/api/orders/"+created.ID+"/delivered", nil)
	s.Equal(http.StatusConflict, status)
}

func (s *APISuite) TestCreateValidation() {
	body := validOrder()
	body["shipping_address"] = ""
	body["email"] = "not-an-email"
	body["items"] = []fiber.Map{{"product_id": 1, "seller_id": 10, "quantity": 0, "unit_price": 10}}

	status, raw := s.do(http.MethodPost, "/api/orders", body)
	s.Require().Equal(http.StatusBadRequest, status)

	var resp struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	s.Require().NoError(json.Unmarshal(raw, &resp))
	s.Equal("validation failed", resp.Error)
	s.Contains(resp.Fields, "shipping_address")
	s.Contains(resp.Fields, "email")
	s.Contains(resp.Fields, "items[0].quantity")
}

func (s *APISuite) TestCreateRejectsEmptyItemsAndBadBody() {
	body := validOrder()
	body["items"] = []fiber.Map{}

	status, _ := s.do(http.MethodPost, "/api/orders", body)
	s.Equal(http.StatusBadRequest, status)

	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req, -1)
	s.Require().NoError(err)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *APISuite) TestCreateRejectsOversizedDiscount() {
	body := validOrder()
	body["items"] = []fiber.Map{{"product_id": 1, "seller_id": 10, "quantity": 1, "unit_price": 100, "discount_value": 101}}

	status, _ := s.do(http.MethodPost, "/api/orders", body)
	s.Equal(http.StatusUnprocessableEntity, status)
}

func (s *APISuite) TestCreateRejectsZeroTotal() {
	body := validOrder()
	body["items"] = []fiber.Map{{"product_id": 1, "seller_id": 10, "quantity": 1, "unit_price": 100, "discount_value": 100}}

	status, _ := s.do(http.MethodPost, "/api/orders", body)
	s.Equal(http.StatusUnprocessableEntity, status)
}

func (s *APISuite) TestUnknownOrder() {
	status, _ := s.do(http.MethodGet, "/api/orders/missing", nil)
	s.Equal(http.StatusNotFound, status)

	status, _ = s.do(http.MethodPost, "/api/orders/missing/delivered", nil)
	s.Equal(http.StatusNotFound, status)
}

func (s *APISuite) TestOperationalEndpoints() {
	status, raw := s.do(http.MethodGet, "/health", nil)
	s.Equal(http.StatusOK, status)
	s.Equal("OK", string(raw))

	s.do(http.MethodGet, "/api/orders/missing", nil)

	status, raw = s.do(http.MethodGet, "/metrics", nil)
	s.Equal(http.StatusOK, status)
	s.Contains(string(raw), "http_requests_total")
}

func TestAPISuite(t *testing.T) {
	suite.Run(t, new(APISuite))
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig("availability")
	cfg.Limiter.Max = 2

	rt, err := New(cfg, zap.NewNop(), testCatalog)
	require.NoError(t, err)
	app := rt.App()

	codes := make([]int, 0, 3)
	for range 3 {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/orders/missing", nil), -1)
		require.NoError(t, err)
		codes = append(codes, resp.StatusCode)
	}

	require.Equal(t, []int{http.StatusNotFound, http.StatusNotFound, http.StatusTooManyRequests}, codes)
}

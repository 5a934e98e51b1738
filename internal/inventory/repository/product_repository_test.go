//go:build integration

package repository

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/order-saga/pkg/testsuite"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type ProductRepositorySuite struct {
	testsuite.BaseSuite

	repo   ProductRepository
	cached ProductRepository
}

func (s *ProductRepositorySuite) SetupSuite() {
	s.SetupInfrastructure("../../../migrations", testsuite.Infra{Redis: true})
}

func (s *ProductRepositorySuite) TearDownSuite() {
	s.TearDownInfrastructure()
}

func (s *ProductRepositorySuite) SetupTest() {
	s.TruncateTables("stock_reservations", "products")
	s.Require().NoError(s.Redis.FlushAll(s.Ctx).Err())

	logger := zap.NewNop()
	s.repo = NewProductRepository(s.DbPool, logger)
	s.cached = NewCachedProductRepository(s.repo, s.Redis, time.Minute, logger)

	s.seed(1, "Keyboard", 5, true)
	s.seed(2, "Retired", 5, false)
	s.seed(3, "Sold out", 0, true)
}

func (s *ProductRepositorySuite) seed(id int64, name string, stock int64, active bool) {
	_, err := s.DbPool.Exec(
		s.Ctx,
		`INSERT INTO products (id, name, seller_id, price, stock_quantity, is_active) VALUES ($1, $2, 1, 100, $3, $4)`,
		id, name, stock, active,
	)
	s.Require().NoError(err)
}

func (s *ProductRepositorySuite) stock(id int64) int64 {
	p, err := s.repo.GetByID(s.Ctx, id)
	s.Require().NoError(err)
	return p.StockQuantity
}

func (s *ProductRepositorySuite) TestGetByID() {
	p, err := s.repo.GetByID(s.Ctx, 1)
	s.Require().NoError(err)
	s.Equal("Keyboard", p.Name)
	s.True(p.IsActive)

	_, err = s.repo.GetByID(s.Ctx, 99)
	s.ErrorIs(err, ErrProductNotFound)
}

func (s *ProductRepositorySuite) TestIsAvailable() {
	for id, want := range map[int64]bool{1: true, 2: false, 3: false, 99: false} {
		got, err := s.repo.IsAvailable(s.Ctx, id)
		s.Require().NoError(err)
		s.Equal(want, got, "product %d", id)
	}
}

func (s *ProductRepositorySuite) TestReserveAndRelease() {
	s.Require().NoError(s.repo.Reserve(s.Ctx, "o-1", 1, 3))
	s.Equal(int64(2), s.stock(1))

	// redelivery of the same reservation holds nothing extra
	s.Require().NoError(s.repo.Reserve(s.Ctx, "o-1", 1, 3))
	s.Equal(int64(2), s.stock(1))

	released, err := s.repo.Release(s.Ctx, "o-1", 1)
	s.Require().NoError(err)
	s.True(released)
	s.Equal(int64(5), s.stock(1))

	released, err = s.repo.Release(s.Ctx, "o-1", 1)
	s.Require().NoError(err)
	s.False(released)
	s.Equal(int64(5), s.stock(1))

	s.Require().NoError(s.repo.Reserve(s.Ctx, "o-1", 1, 4))
	s.Equal(int64(1), s.stock(1))
}

func (s *ProductRepositorySuite) TestReserveRejections() {
	s.ErrorIs(s.repo.Reserve(s.Ctx, "o-1", 1, 6), ErrInsufficientStock)
	s.ErrorIs(s.repo.Reserve(s.Ctx, "o-1", 2, 1), ErrInsufficientStock)
	s.ErrorIs(s.repo.Reserve(s.Ctx, "o-1", 99, 1), ErrProductNotFound)

	s.Equal(int64(5), s.stock(1))

	var count int
	s.Require().NoError(s.DbPool.QueryRow(s.Ctx, `SELECT COUNT(*) FROM stock_reservations`).Scan(&count))
	s.Zero(count)
}

func (s *ProductRepositorySuite) TestReleaseWithoutReservation() {
	released, err := s.repo.Release(s.Ctx, "o-1", 1)
	s.Require().NoError(err)
	s.False(released)
}

func (s *ProductRepositorySuite) TestLastUnitGoesToOneOrder() {
	s.seed(4, "Last one", 1, true)

	errs := make(chan error, 2)
	for _, orderID := range []string{"o-1", "o-2"} {
		go func() {
			errs <- s.repo.Reserve(s.Ctx, orderID, 4, 1)
		}()
	}

	var won, lost int
	for range 2 {
		if err := <-errs; err == nil {
			won++
		} else {
			s.ErrorIs(err, ErrInsufficientStock)
			lost++
		}
	}

	s.Equal(1, won)
	s.Equal(1, lost)
	s.Zero(s.stock(4))
}

func (s *ProductRepositorySuite) TestCachedAvailability() {
	available, err := s.cached.IsAvailable(s.Ctx, 1)
	s.Require().NoError(err)
	s.True(available)

	flag, err := s.Redis.Get(s.Ctx, availabilityKey(1)).Result()
	s.Require().NoError(err)
	s.Equal("1", flag)

	s.Require().NoError(s.cached.Reserve(s.Ctx, "o-1", 1, 5))

	_, err = s.Redis.Get(s.Ctx, availabilityKey(1)).Result()
	s.ErrorIs(err, redis.Nil)

	available, err = s.cached.IsAvailable(s.Ctx, 1)
	s.Require().NoError(err)
	s.False(available)

	released, err := s.cached.Release(s.Ctx, "o-1", 1)
	s.Require().NoError(err)
	s.True(released)

	available, err = s.cached.IsAvailable(s.Ctx, 1)
	s.Require().NoError(err)
	s.True(available)
}

func TestProductRepositorySuite(t *testing.T) {
	suite.Run(t, new(ProductRepositorySuite))
}

package access

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"bondledger/internal/access/store"
	dErrors "bondledger/pkg/domain-errors"
)

type AuthoritySuite struct {
	suite.Suite
	ctx       context.Context
	now       time.Time
	store     *store.InMemory
	authority *Authority
}

func (s *AuthoritySuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.store = store.NewInMemory()
	s.authority = NewAuthority(s.store)
	owner, err := s.authority.Bootstrap(s.ctx, "issuer", s.now)
	s.Require().NoError(err)
	s.Require().EqualValues("issuer", owner)
}

func TestAuthoritySuite(t *testing.T) {
	suite.Run(t, new(AuthoritySuite))
}

func (s *AuthoritySuite) TestBootstrap() {
	s.Run("stored owner wins", func() {
		owner, err := s.authority.Bootstrap(s.ctx, "someone-else", s.now)
		s.Require().NoError(err)
		s.EqualValues("issuer", owner)
	})

	s.Run("null bootstrap owner rejected", func() {
		a := NewAuthority(store.NewInMemory())
		_, err := a.Bootstrap(s.ctx, "", s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidParameter))
	})
}

func (s *AuthoritySuite) TestRequireOwner() {
	s.NoError(s.authority.RequireOwner(s.ctx, "issuer"))

	err := s.authority.RequireOwner(s.ctx, "mallory")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	err = s.authority.RequireOwner(s.ctx, "")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *AuthoritySuite) TestTransferOwnership() {
	s.Run("non-owner cannot transfer", func() {
		_, err := s.authority.TransferOwnership(s.ctx, "mallory", "mallory", s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
		owner, _ := s.authority.Owner(s.ctx)
		s.EqualValues("issuer", owner)
	})

	s.Run("null new owner rejected", func() {
		_, err := s.authority.TransferOwnership(s.ctx, "issuer", "", s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidParameter))
	})

	s.Run("owner moves", func() {
		prev, err := s.authority.TransferOwnership(s.ctx, "issuer", "treasury", s.now)
		s.Require().NoError(err)
		s.EqualValues("issuer", prev)
		s.NoError(s.authority.RequireOwner(s.ctx, "treasury"))
		s.True(dErrors.HasCode(s.authority.RequireOwner(s.ctx, "issuer"), dErrors.CodeUnauthorized))
	})
}

package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/danmu-chat/pkg/util/etcd"
	"github.com/lk2023060901/danmu-chat/pkg/util/merr"
)

type EtcdStoreSuite struct {
	suite.Suite
	store *EtcdStore
}

func (s *EtcdStoreSuite) SetupSuite() {
	err := etcd.InitEtcdServer(true, "", s.T().TempDir(), "", "error")
	s.Require().NoError(err)
	cli, err := etcd.GetEmbedEtcdClient()
	s.Require().NoError(err)
	s.store = NewEtcdStore(cli, "/chat-test/users")
}

func (s *EtcdStoreSuite) TearDownSuite() {
	etcd.StopEtcdServer()
}

func (s *EtcdStoreSuite) TestBehaviour() {
	exerciseStore(s.T(), s.store)
}

func (s *EtcdStoreSuite) TestSeed() {
	ctx := context.Background()
	require.NoError(s.T(), Seed(ctx, s.store, testCost))
	require.NoError(s.T(), Seed(ctx, s.store, testCost))

	hashed, err := s.store.Get(ctx, "User2")
	s.Require().NoError(err)
	s.NoError(CheckPassword("User2", hashed, "pass456"))

	_, err = s.store.Get(ctx, "User9")
	s.ErrorIs(err, merr.ErrUserNotFound)
}

func TestEtcdStore(t *testing.T) {
	suite.Run(t, new(EtcdStoreSuite))
}

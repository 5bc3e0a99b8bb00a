// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package conc

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool(t *testing.T) {
	pool, err := NewPool[int](4, WithName("test"))
	require.NoError(t, err)
	defer pool.Release()

	futures := make([]*Future[int], 0, 16)
	for i := 0; i < 16; i++ {
		res := i
		futures = append(futures, pool.Submit(func() (int, error) {
			time.Sleep(time.Millisecond)
			return res, nil
		}))
	}

	assert.NoError(t, AwaitAll(futures...))
	for i, future := range futures {
		assert.Equal(t, i, future.Value())
		assert.True(t, future.OK())
	}
	assert.Equal(t, 4, pool.Cap())
}

func TestPoolError(t *testing.T) {
	pool, err := NewPool[any](2)
	require.NoError(t, err)
	defer pool.Release()

	errBoom := errors.New("boom")
	ok := pool.Submit(func() (any, error) { return nil, nil })
	bad := pool.Submit(func() (any, error) { return nil, errBoom })

	assert.ErrorIs(t, AwaitAll(ok, bad), errBoom)
	_, err = bad.Await()
	assert.ErrorIs(t, err, errBoom)
	assert.False(t, bad.OK())
}

func TestPoolConcealPanic(t *testing.T) {
	pool, err := NewPool[any](1, WithConcealPanic(true))
	require.NoError(t, err)
	defer pool.Release()

	future := pool.Submit(func() (any, error) {
		panic("oops")
	})
	assert.Error(t, future.Err())
}

func TestPoolPreHandler(t *testing.T) {
	called := make(chan struct{}, 1)
	pool, err := NewPool[any](1, WithPreHandler(func() { called <- struct{}{} }))
	require.NoError(t, err)
	defer pool.Release()

	assert.True(t, pool.Submit(func() (any, error) { return nil, nil }).OK())
	select {
	case <-called:
	default:
		t.Fatal("pre handler not invoked")
	}
}

func TestNewPoolInvalid(t *testing.T) {
	_, err := NewPool[any](0)
	assert.Error(t, err)
}

func TestGo(t *testing.T) {
	future := Go(func() (int, error) {
		return 42, nil
	})
	v, err := future.Await()
	assert.NoError(t, err)
	assert.Equal(t, 42, v)
	<-future.Inner()
}

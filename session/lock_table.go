/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package session

import (
	"context"
	"sync"
	"time"

	"github.com/jhc920403/inflearn-data-jpa/types"
)

// LockTable is an in-process exclusive lock registry for stores that cannot
// lock rows themselves. Locks are reentrant per owner.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]*heldLock
}

type heldLock struct {
	owner    string
	count    int
	released chan struct{}
}

func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[string]*heldLock)}
}

// Acquire takes key for owner, waiting at most timeout (or until ctx ends
// when timeout is zero). A timeout fails with LockTimeoutKind.
func (lt *LockTable) Acquire(ctx context.Context, key, owner string, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	for {
		lt.mu.Lock()
		held, ok := lt.locks[key]
		if !ok {
			lt.locks[key] = &heldLock{owner: owner, count: 1, released: make(chan struct{})}
			lt.mu.Unlock()
			return nil
		}
		if held.owner == owner {
			held.count++
			lt.mu.Unlock()
			return nil
		}
		wait := held.released
		lt.mu.Unlock()

		select {
		case <-wait:
		case <-expired:
			return types.NewError(types.LockTimeoutKind, key, "waited %s for lock held by %s", timeout, held.owner)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Release drops one hold of key by owner.
func (lt *LockTable) Release(key, owner string) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	held, ok := lt.locks[key]
	if !ok || held.owner != owner {
		return
	}
	held.count--
	if held.count == 0 {
		delete(lt.locks, key)
		close(held.released)
	}
}

// ReleaseAll drops every lock held by owner.
func (lt *LockTable) ReleaseAll(owner string) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	for key, held := range lt.locks {
		if held.owner == owner {
			delete(lt.locks, key)
			close(held.released)
		}
	}
}

// Holder returns the owner of key, if any.
func (lt *LockTable) Holder(key string) (string, bool) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	held, ok := lt.locks[key]
	if !ok {
		return "", false
	}
	return held.owner, true
}

package storage

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/rl1809/cart-service/internal/core/domain"
)

const zkLockRoot = "/cart_locks"

// ZookeeperLocker grants leases with ephemeral sequential nodes under
// /cart_locks/<key>. A lease lives as long as the ZooKeeper session, so the
// requested TTL is not enforced by the server; a crashed holder is released
// when its session expires.
type ZookeeperLocker struct {
	conn *zk.Conn
	opts LockOptions

	mu   sync.Mutex
	held map[string][]string
}

func NewZookeeperLocker(conn *zk.Conn, opts LockOptions) *ZookeeperLocker {
	return &ZookeeperLocker{
		conn: conn,
		opts: opts,
		held: make(map[string][]string),
	}
}

func (l *ZookeeperLocker) Acquire(ctx context.Context, keys []domain.ResourceKey, ttl time.Duration) (*domain.Lease, error) {
	names, err := keyNames(keys)
	if err != nil {
		return nil, err
	}
	// Fixed order so two multi-key leases cannot wait on each other
	sort.Strings(names)

	waitCtx, cancel := context.WithTimeout(ctx, l.waitBudget())
	defer cancel()

	acquiredAt := time.Now()
	nodes := make([]string, 0, len(names))
	for _, name := range names {
		node, err := l.lockOne(waitCtx, name)
		if err != nil {
			l.deleteNodes(nodes)
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, fmt.Errorf("%w: %s", domain.ErrLockUnavailable, name)
			}
			return nil, err
		}
		nodes = append(nodes, node)
	}

	token := uuid.NewString()
	l.mu.Lock()
	l.held[token] = nodes
	l.mu.Unlock()

	return &domain.Lease{Token: token, Keys: keys, TTL: ttl, AcquiredAt: acquiredAt}, nil
}

func (l *ZookeeperLocker) Release(ctx context.Context, lease *domain.Lease) error {
	if lease == nil {
		return nil
	}

	l.mu.Lock()
	nodes, ok := l.held[lease.Token]
	delete(l.held, lease.Token)
	l.mu.Unlock()

	if !ok {
		return nil
	}
	return l.deleteNodes(nodes)
}

// waitBudget matches the total time the Redis locker would spend retrying.
func (l *ZookeeperLocker) waitBudget() time.Duration {
	return time.Duration(l.opts.RetryCount+1) * (l.opts.RetryDelay + l.opts.RetryJitter)
}

func (l *ZookeeperLocker) lockOne(ctx context.Context, name string) (string, error) {
	dir := zkLockRoot + "/" + strings.ReplaceAll(name, "/", "_")
	if err := l.ensureNode(zkLockRoot); err != nil {
		return "", err
	}
	if err := l.ensureNode(dir); err != nil {
		return "", err
	}

	node, err := l.conn.CreateProtectedEphemeralSequential(dir+"/lock-", nil, zk.WorldACL(zk.PermAll))
	if err != nil {
		return "", errors.Wrap(err, "create sequential node")
	}
	self := path.Base(node)

	for {
		children, _, err := l.conn.Children(dir)
		if err != nil {
			l.deleteNodes([]string{node})
			return "", errors.Wrap(err, "list lock nodes")
		}

		prev, err := predecessor(children, self)
		if err != nil {
			l.deleteNodes([]string{node})
			return "", err
		}
		if prev == "" {
			return node, nil
		}

		exists, _, events, err := l.conn.ExistsW(dir + "/" + prev)
		if err != nil {
			l.deleteNodes([]string{node})
			return "", errors.Wrap(err, "watch previous node")
		}
		if !exists {
			continue
		}

		select {
		case <-events:
		case <-ctx.Done():
			l.deleteNodes([]string{node})
			return "", ctx.Err()
		}
	}
}

func (l *ZookeeperLocker) ensureNode(p string) error {
	_, err := l.conn.Create(p, nil, 0, zk.WorldACL(zk.PermAll))
	if err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return errors.Wrapf(err, "create lock node %s", p)
	}
	return nil
}

func (l *ZookeeperLocker) deleteNodes(nodes []string) error {
	var firstErr error
	for _, node := range nodes {
		err := l.conn.Delete(node, -1)
		if err != nil && !errors.Is(err, zk.ErrNoNode) && firstErr == nil {
			firstErr = errors.Wrapf(err, "delete lock node %s", node)
		}
	}
	return firstErr
}

// predecessor returns the node queued directly ahead of self, or "" when self
// holds the lock. Nodes are ordered by their sequence suffix because the
// protected-node prefix is random.
func predecessor(children []string, self string) (string, error) {
	ordered := append([]string(nil), children...)
	sort.Slice(ordered, func(i, j int) bool {
		return sequenceOf(ordered[i]) < sequenceOf(ordered[j])
	})

	for i, child := range ordered {
		if child != self {
			continue
		}
		if i == 0 {
			return "", nil
		}
		return ordered[i-1], nil
	}
	return "", errors.Errorf("lock node %s vanished, session likely expired", self)
}

func sequenceOf(node string) string {
	return node[strings.LastIndex(node, "-")+1:]
}

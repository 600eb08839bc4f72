// Package discovery keeps the router registry in etcd: each daemon
// registers its own transport endpoint under a kept-alive lease and watches
// the registry to learn where its configured neighbors currently are.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrroute/pkg/name"
)

const routersPrefix = "/zephyrroute/routers/"

func NewClient(endpoints []string, dialTimeout time.Duration) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
}

// RegisterRouter publishes this router's transport endpoint under a lease of
// ttl seconds and keeps the lease alive until the returned cancel func runs.
func RegisterRouter(ctx context.Context, cli *clientv3.Client, router name.Name, addr string, ttl int64) (clientv3.LeaseID, func(), error) {
	lease, err := cli.Grant(ctx, ttl)
	if err != nil {
		return 0, nil, fmt.Errorf("discovery: lease grant: %w", err)
	}
	key := routersPrefix + router.String()
	if _, err := cli.Put(ctx, key, addr, clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, fmt.Errorf("discovery: register %s: %w", router, err)
	}

	kaCtx, cancel := context.WithCancel(ctx)
	ch, err := cli.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return 0, nil, fmt.Errorf("discovery: keepalive: %w", err)
	}
	go func() {
		for range ch {
		}
	}()
	return lease.ID, cancel, nil
}

// FetchRouters returns the current registry: router name URI to endpoint.
func FetchRouters(ctx context.Context, cli *clientv3.Client) (map[string]string, error) {
	resp, err := cli.Get(ctx, routersPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("discovery: fetch routers: %w", err)
	}
	routers := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		uri := strings.TrimPrefix(string(kv.Key), routersPrefix)
		if _, err := name.Parse(uri); err != nil {
			continue
		}
		routers[uri] = string(kv.Value)
	}
	return routers, nil
}

// WatchRouters invokes fn with the full registry state on every change,
// starting with the current state. A broken watch is re-established with
// exponential backoff. Blocks until ctx is canceled.
func WatchRouters(ctx context.Context, cli *clientv3.Client, log *zap.SugaredLogger, fn func(map[string]string)) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	retry := backoff.ExponentialBackOff{
		InitialInterval:     backoff.DefaultInitialInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         time.Minute,
	}
	retry.Reset()

	for ctx.Err() == nil {
		routers, err := FetchRouters(ctx, cli)
		if err != nil {
			wait := retry.NextBackOff()
			log.Warnw("router registry fetch failed, retrying", zap.Error(err), "wait", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		retry.Reset()
		fn(copyRouters(routers))

		wch := cli.Watch(ctx, routersPrefix, clientv3.WithPrefix())
		for resp := range wch {
			if err := resp.Err(); err != nil {
				log.Warnw("router registry watch broken", zap.Error(err))
				break
			}
			for _, ev := range resp.Events {
				uri := strings.TrimPrefix(string(ev.Kv.Key), routersPrefix)
				if _, err := name.Parse(uri); err != nil {
					continue
				}
				if ev.Type == mvccpb.PUT {
					routers[uri] = string(ev.Kv.Value)
				} else {
					delete(routers, uri)
				}
			}
			fn(copyRouters(routers))
		}
		// Fall through to refetch and rewatch.
	}
}

func copyRouters(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

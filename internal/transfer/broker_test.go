package transfer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rdb "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/crossauth/internal/domain/repository"
	"github.com/dropDatabas3/crossauth/internal/store/memory"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := rdb.NewClient(&rdb.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]Store{
		"directory": NewDirectoryStore(memory.New()),
		"redis":     NewRedisStore(client, "test:xfer:"),
	}
}

func issue(t *testing.T, b *Broker) string {
	t.Helper()
	tok, err := b.Issue(context.Background(), IssueRequest{
		UserID: "u1", TenantID: "t1", TargetDomain: "App.Acme.com",
		CallbackPath: "/dashboard", Context: repository.ContextTeam,
	})
	require.NoError(t, err)
	return tok
}

func TestBroker_RedeemOnce(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			b := NewBroker(s, 0)
			tok := issue(t, b)
			assert.Len(t, tok, 43)

			r, err := b.Redeem(context.Background(), tok, "app.acme.com:443")
			require.NoError(t, err)
			assert.Equal(t, "u1", r.UserID)
			assert.Equal(t, "t1", r.TenantID)
			assert.Equal(t, "/dashboard", r.CallbackPath)
			assert.Equal(t, repository.ContextTeam, r.Context)

			_, err = b.Redeem(context.Background(), tok, "app.acme.com")
			assert.ErrorIs(t, err, ErrAlreadyUsed)

			_, err = b.Redeem(context.Background(), "nunca-emitido", "app.acme.com")
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestRedisStore_KeysShareHashTag(t *testing.T) {
	mr := miniredis.RunT(t)
	client := rdb.NewClient(&rdb.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	b := NewBroker(NewRedisStore(client, "test:xfer:"), 0)
	tok := issue(t, b)

	assert.Equal(t, []string{"test:xfer:{" + tok + "}"}, mr.Keys())

	_, err := b.Redeem(context.Background(), tok, "app.acme.com")
	require.NoError(t, err)
	// el script toca ambas keys: mismo hash tag, mismo slot
	assert.Equal(t, []string{"test:xfer:used:{" + tok + "}"}, mr.Keys())
}

func TestBroker_ForeignHost(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			b := NewBroker(s, 0)
			tok := issue(t, b)

			_, err := b.Redeem(context.Background(), tok, "evil.com")
			assert.ErrorIs(t, err, ErrInvalid)

			// el intento fallido consume el token
			_, err = b.Redeem(context.Background(), tok, "app.acme.com")
			assert.ErrorIs(t, err, ErrAlreadyUsed)
		})
	}
}

func TestBroker_Expired(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Now()
			b := NewBroker(s, 30*time.Second)
			b.now = func() time.Time { return now }
			tok := issue(t, b)

			now = now.Add(31 * time.Second)
			_, err := b.Redeem(context.Background(), tok, "app.acme.com")
			assert.ErrorIs(t, err, ErrExpired)
		})
	}
}

func TestBroker_TTLClamped(t *testing.T) {
	b := NewBroker(NewDirectoryStore(memory.New()), 10*time.Minute)
	assert.Equal(t, 60*time.Second, b.TTL())
}

func TestBroker_ConcurrentRedeemExactlyOnce(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			b := NewBroker(s, 0)
			tok := issue(t, b)

			var (
				wg   sync.WaitGroup
				ok   atomic.Int32
				used atomic.Int32
			)
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := b.Redeem(context.Background(), tok, "app.acme.com")
					switch err {
					case nil:
						ok.Add(1)
					case ErrAlreadyUsed:
						used.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.EqualValues(t, 1, ok.Load())
			assert.EqualValues(t, 15, used.Load())
		})
	}
}

func TestBroker_IssueValidation(t *testing.T) {
	b := NewBroker(NewDirectoryStore(memory.New()), 0)
	_, err := b.Issue(context.Background(), IssueRequest{UserID: "u", TenantID: "t"})
	assert.ErrorIs(t, err, repository.ErrInvalidInput)

	_, err = b.Issue(context.Background(), IssueRequest{UserID: "u", TenantID: "t", TargetDomain: "*.acme.com"})
	assert.Error(t, err)
}

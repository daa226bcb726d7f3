// Package store implements persistence over PostgreSQL via pgx.
package store

import (
	"context"
	"fmt"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	nanoid "github.com/matoous/go-nanoid/v2"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Connect opens a pgx pool with UTC session timezone and an OTel tracer.
func Connect(ctx context.Context, url string, maxConns, minConns int) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	if maxConns > 0 {
		poolConfig.MaxConns = int32(maxConns)
	}
	if minConns > 0 {
		poolConfig.MinConns = int32(minConns)
	}
	poolConfig.ConnConfig.RuntimeParams["timezone"] = "UTC"
	poolConfig.ConnConfig.Tracer = otelpgx.NewTracer(otelpgx.WithTrimSQLInSpanName())

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

type txKey struct{}

// WithTx runs fn inside a transaction. A nested call reuses the transaction
// already carried by the context.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx := txFromContext(ctx); tx != nil {
		return fn(ctx)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	ctx = context.WithValue(ctx, txKey{}, tx)

	if err := fn(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	return tx.Commit(ctx)
}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// ContextWithTx returns a context carrying an externally managed transaction.
// Store calls made with it run on tx; WithTx reuses it instead of beginning
// its own.
func ContextWithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *Store) conn(ctx context.Context) querier {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

const idLength = 21

// NewID generates a prefixed nanoid, e.g. "msg_V1StGXR8_Z5jdHi6B-myT".
func NewID(prefix string) string {
	id, err := nanoid.New(idLength)
	if err != nil {
		panic("nanoid generation failed: " + err.Error())
	}
	return prefix + "_" + id
}

const (
	PrefixUser          = "usr"
	PrefixConversation  = "conv"
	PrefixMessage       = "msg"
	PrefixReaction      = "react"
	PrefixPoll          = "poll"
	PrefixPollOption    = "opt"
	PrefixPollVote      = "vote"
	PrefixOneTimePreKey = "opk"
	PrefixSenderKey     = "skey"
	PrefixConvKeyBackup = "ckb"
)

func NewUserID() string          { return NewID(PrefixUser) }
func NewConversationID() string  { return NewID(PrefixConversation) }
func NewMessageID() string       { return NewID(PrefixMessage) }
func NewReactionID() string      { return NewID(PrefixReaction) }
func NewPollID() string          { return NewID(PrefixPoll) }
func NewPollOptionID() string    { return NewID(PrefixPollOption) }
func NewPollVoteID() string      { return NewID(PrefixPollVote) }
func NewOneTimePreKeyID() string { return NewID(PrefixOneTimePreKey) }
func NewSenderKeyID() string     { return NewID(PrefixSenderKey) }
func NewConvKeyBackupID() string { return NewID(PrefixConvKeyBackup) }

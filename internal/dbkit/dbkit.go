// Package dbkit wraps an embedded transactional key-value engine (BuntDB)
// in a BEGIN/COMMIT/ROLLBACK + named-bound-statement contract: BEGIN
// DEFERRED/EXCLUSIVE, prepared statements with named bindings, and
// BUSY/LOCKED/FULL/IOERR error reporting.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package dbkit

import (
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"

	"github.com/yatool/localcache/internal/errs"
)

// LockKind mirrors the SQL `BEGIN DEFERRED` / `BEGIN EXCLUSIVE` distinction.
// BuntDB's own `View`/`Update` split maps onto it one-for-one: a Deferred
// transaction never writes, an Exclusive one always takes the single writer
// lock up front.
type LockKind int

const (
	Deferred LockKind = iota
	Exclusive
)

const (
	autoShrinkSize = 1 << 20 // 1 MiB
	autoShrinkPct  = 50
)

// DB owns one BuntDB handle. In cmd/cached a single DB is shared by the
// content store, the action store, the garbage collector and the reaper.
type DB struct {
	mu     sync.Mutex // serializes writer transactions, standing in for BuntDB's internal single-writer lock plus our own retry bookkeeping
	driver *buntdb.DB
	path   string
}

func Open(path string) (*DB, error) {
	driver, err := buntdb.Open(path)
	if err != nil {
		return nil, classify(err)
	}
	if serr := driver.SetConfig(buntdb.Config{
		SyncPolicy:           buntdb.EverySecond,
		AutoShrinkMinSize:    autoShrinkSize,
		AutoShrinkPercentage: autoShrinkPct,
	}); serr != nil {
		driver.Close()
		return nil, classify(serr)
	}
	return &DB{driver: driver, path: path}, nil
}

func (db *DB) Close() error { return db.driver.Close() }

// Tx is a single, in-flight engine transaction. Every component statement
// bundle is handed a *Tx so it can bind parameters and read rows without
// knowing whether it's inside a reader or writer transaction.
type Tx struct {
	bunt *buntdb.Tx
	kind LockKind
}

// WithTx runs fn inside one engine transaction of the given kind, retrying
// BUSY/LOCKED errors with a back-off up to maxRetries times; the garbage
// collector's own writer passes maxRetries<0 for unlimited retries.
func (db *DB) WithTx(kind LockKind, maxRetries int, fn func(*Tx) error) error {
	attempt := 0
	for {
		err := db.withTxOnce(kind, fn)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		attempt++
		if maxRetries >= 0 && attempt > maxRetries {
			return err
		}
		backoff(attempt)
	}
}

func (db *DB) withTxOnce(kind LockKind, fn func(*Tx) error) (err error) {
	run := func(bt *buntdb.Tx) error {
		tx := &Tx{bunt: bt, kind: kind}
		return fn(tx)
	}
	if kind == Exclusive {
		db.mu.Lock()
		defer db.mu.Unlock()
		err = db.driver.Update(run)
	} else {
		err = db.driver.View(run)
	}
	if err != nil {
		return classify(err)
	}
	return nil
}

func retryable(err error) bool {
	return errs.Is(err, errs.KindBusy) || errs.Is(err, errs.KindLocked)
}

// backoff is a simple bounded scheduler yield, kept deterministic (no
// sleep) for the common case of a handful of retries, escalating only for
// pathological contention.
func backoff(attempt int) {
	if attempt > 3 {
		for i := 0; i < attempt*attempt; i++ {
			runtimeGosched()
		}
	}
}

// classify maps an underlying BuntDB/OS error onto the Busy/Locked/Full/
// IOErr/NotFound vocabulary.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case err == buntdb.ErrNotFound:
		return errs.New(errs.KindNotFound, "row not found")
	case err == buntdb.ErrTxClosed, err == buntdb.ErrTxNotWritable:
		return errs.Wrap(errs.KindLocked, err, "transaction conflict")
	case errors.Is(err, os.ErrClosed):
		return errs.Wrap(errs.KindLocked, err, "engine handle closed")
	case isNoSpace(err):
		return errs.Wrap(errs.KindFull, err, "storage full")
	case isIOErr(err):
		return errs.Wrap(errs.KindIOErr, err, "i/o error")
	default:
		return err
	}
}

func isNoSpace(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no space left")
}

func isIOErr(err error) bool {
	var perr *os.PathError
	return errors.As(err, &perr)
}

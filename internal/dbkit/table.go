/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package dbkit

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/yatool/localcache/internal/errs"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const sepa = "##"

// Table is a named collection of JSON-encoded rows keyed by id, keeping
// unrelated collections from colliding inside one flat BuntDB keyspace.
type Table struct {
	Name string
}

func (t Table) rowKey(id string) string {
	return t.Name + sepa + id
}

// IndexKey builds a secondary-index key ordering rows lexicographically by
// sortKey ahead of id, so `AscendKeys` over a prefix yields rows in sortKey
// order — the mechanism behind the `acs_gc` last-access LRU scan and the
// `blobs` rowid pagination.
func (t Table) IndexKey(index, sortKey, id string) string {
	return t.Name + sepa + "idx" + sepa + index + sepa + sortKey + sepa + id
}

func (t Table) indexPrefix(index string) string {
	return t.Name + sepa + "idx" + sepa + index + sepa
}

// PaddedInt64 renders v so lexicographic string order matches numeric order
// for the non-negative monotonic counters this core uses (last_access,
// last_access_time, blob rowid).
func PaddedInt64(v int64) string {
	return fmt.Sprintf("%020d", v)
}

// ParsePaddedInt64 is the inverse of PaddedInt64.
func ParsePaddedInt64(s string) int64 {
	var v int64
	fmt.Sscanf(s, "%d", &v)
	return v
}

func (t Table) Put(tx *Tx, id string, row interface{}) error {
	b, err := json.Marshal(row)
	if err != nil {
		return errs.Wrap(errs.KindIOErr, err, "marshal row")
	}
	_, _, err = tx.bunt.Set(t.rowKey(id), string(b), nil)
	return classify(err)
}

func (t Table) Get(tx *Tx, id string, out interface{}) error {
	s, err := tx.bunt.Get(t.rowKey(id))
	if err != nil {
		return classify(err)
	}
	if uerr := json.Unmarshal([]byte(s), out); uerr != nil {
		return errs.Wrap(errs.KindIOErr, uerr, "unmarshal row")
	}
	return nil
}

func (t Table) Exists(tx *Tx, id string) (bool, error) {
	_, err := tx.bunt.Get(t.rowKey(id))
	if err != nil {
		if errs.Is(classify(err), errs.KindNotFound) {
			return false, nil
		}
		return false, classify(err)
	}
	return true, nil
}

func (t Table) Delete(tx *Tx, id string) error {
	_, err := tx.bunt.Delete(t.rowKey(id))
	if err != nil && err.Error() != "not found" {
		return classify(err)
	}
	return nil
}

// PutIndexed writes both the row and its secondary-index entry in the same
// transaction, replacing any stale index entry for id under this index.
func (t Table) PutIndexed(tx *Tx, id, index, sortKey string, row interface{}) error {
	if err := t.Put(tx, id, row); err != nil {
		return err
	}
	_, _, err := tx.bunt.Set(t.IndexKey(index, sortKey, id), id, nil)
	return classify(err)
}

// PutIndexOnly writes a secondary-index entry without touching the row
// itself, for rows that need more than one index (e.g. a dependency edge
// indexed both by its source and its target uid).
func (t Table) PutIndexOnly(tx *Tx, index, sortKey, id string) error {
	_, _, err := tx.bunt.Set(t.IndexKey(index, sortKey, id), id, nil)
	return classify(err)
}

func (t Table) DeleteIndex(tx *Tx, index, sortKey, id string) error {
	_, err := tx.bunt.Delete(t.IndexKey(index, sortKey, id))
	if err != nil && err.Error() != "not found" {
		return classify(err)
	}
	return nil
}

// AscendIndex walks index entries in sortKey order starting after
// afterSortKey (exclusive), calling fn(id, sortKey) for each; stops when fn
// returns false or the table is exhausted. The matching entries are
// collected first and fn runs after the engine's walk has finished, so fn
// may write through tx (the engine refuses writes during a walk).
func (t Table) AscendIndex(tx *Tx, index, afterSortKey string, fn func(id, sortKey string) bool) error {
	prefix := t.indexPrefix(index)
	var entries [][2]string
	tx.bunt.AscendGreaterOrEqual("", prefix+afterSortKey, func(key, val string) bool {
		if !strings.HasPrefix(key, prefix) {
			return false
		}
		rest := strings.TrimPrefix(key, prefix)
		parts := strings.SplitN(rest, sepa, 2)
		if len(parts) != 2 {
			return true
		}
		sortKey, id := parts[0], parts[1]
		if sortKey == afterSortKey && afterSortKey != "" {
			return true
		}
		entries = append(entries, [2]string{id, sortKey})
		return true
	})
	for _, e := range entries {
		if !fn(e[0], e[1]) {
			break
		}
	}
	return nil
}

// EachExact walks every index entry whose sortKey equals exactly the given
// value (e.g. every `acs_blobs` edge for one action uid, every `reqs` row
// for one task id), calling fn(id) for each in id order. Stops early if fn
// returns false.
func (t Table) EachExact(tx *Tx, index, sortKey string, fn func(id string) bool) error {
	prefix := t.IndexKey(index, sortKey, "")
	tx.bunt.AscendGreaterOrEqual("", prefix, func(key, _ string) bool {
		if !strings.HasPrefix(key, prefix) {
			return false
		}
		id := strings.TrimPrefix(key, prefix)
		return fn(id)
	})
	return nil
}

// List returns every row id stored directly under this table (not an
// index).
func (t Table) List(tx *Tx) ([]string, error) {
	prefix := t.Name + sepa
	idxPrefix := t.Name + sepa + "idx" + sepa
	var ids []string
	tx.bunt.AscendGreaterOrEqual("", prefix, func(key, _ string) bool {
		if !strings.HasPrefix(key, prefix) {
			return false
		}
		if strings.HasPrefix(key, idxPrefix) {
			return true
		}
		ids = append(ids, strings.TrimPrefix(key, prefix))
		return true
	})
	return ids, nil
}

// Copyright 2019 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package txn

import (
	"github.com/pingcap-incubator/tinymeta/meta/server/kvapi"
	"github.com/pkg/errors"
)

// IDList is the ordered history of ids bound to one name. The last id is the
// live or most recently dropped object.
type IDList struct {
	IDs []uint64 `msgpack:"ids"`
}

// Len returns the number of ids.
func (l *IDList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.IDs)
}

// Last returns the last id.
func (l *IDList) Last() (uint64, bool) {
	if l.Len() == 0 {
		return 0, false
	}
	return l.IDs[len(l.IDs)-1], true
}

// Contains returns whether id is in the list.
func (l *IDList) Contains(id uint64) bool {
	if l == nil {
		return false
	}
	for _, x := range l.IDs {
		if x == id {
			return true
		}
	}
	return false
}

func (l *IDList) clone() *IDList {
	res := &IDList{}
	if l != nil {
		res.IDs = append(res.IDs, l.IDs...)
	}
	return res
}

func listData(cur *kvapi.SeqV[IDList]) *IDList {
	if cur == nil {
		return nil
	}
	return &cur.Data
}

// AppendID adds id to the end of the list at key. cur is the value read in
// this attempt. It returns the new list.
func AppendID(b *Builder, key kvapi.Key, cur *kvapi.SeqV[IDList], id uint64) *IDList {
	l := listData(cur).clone()
	if n := len(l.IDs); n == 0 || l.IDs[n-1] != id {
		l.IDs = append(l.IDs, id)
	}
	b.CondSeq(key, cur.GetSeq()).Put(key, l)
	return l
}

// RemoveID removes id from the list at key, deleting the key once the list
// is empty. It reports whether id was present; if not, nothing is added to b.
func RemoveID(b *Builder, key kvapi.Key, cur *kvapi.SeqV[IDList], id uint64) bool {
	if !listData(cur).Contains(id) {
		return false
	}
	l := &IDList{}
	for _, x := range cur.Data.IDs {
		if x != id {
			l.IDs = append(l.IDs, x)
		}
	}
	b.CondSeq(key, cur.GetSeq())
	if len(l.IDs) == 0 {
		b.Delete(key)
	} else {
		b.Put(key, l)
	}
	return true
}

// MoveID moves id from one list to the end of another. Both lists are
// conditioned on the seqs they were read at.
func MoveID(b *Builder, fromKey kvapi.Key, from *kvapi.SeqV[IDList], toKey kvapi.Key, to *kvapi.SeqV[IDList], id uint64) error {
	if fromKey.StringKey() == toKey.StringKey() {
		return errors.Errorf("move id %d within the same list %q", id, fromKey.StringKey())
	}
	if !RemoveID(b, fromKey, from, id) {
		return errors.Errorf("id %d not in list %q", id, fromKey.StringKey())
	}
	AppendID(b, toKey, to, id)
	return nil
}

// MoveToEnd reorders the list at key so id is last.
func MoveToEnd(b *Builder, key kvapi.Key, cur *kvapi.SeqV[IDList], id uint64) *IDList {
	l := &IDList{}
	for _, x := range listData(cur).clone().IDs {
		if x != id {
			l.IDs = append(l.IDs, x)
		}
	}
	l.IDs = append(l.IDs, id)
	b.CondSeq(key, cur.GetSeq()).Put(key, l)
	return l
}

// PutIndex writes a derived record, like an id-to-name reverse index,
// conditioned on the seq it was read at.
func PutIndex[V any](b *Builder, key kvapi.Key, cur *kvapi.SeqV[V], v V) {
	b.CondSeq(key, cur.GetSeq()).Put(key, &v)
}

// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conddb

import (
	"context"
	"fmt"
	"time"
)

// ScanState is one row of the scanstates table: the parameters a
// threshold scan was taken with.
type ScanState struct {
	ID       uint64
	Config   int32  // MuTRiG configuration-set identifier
	Interval uint16 // accumulation window, in seconds
	DevMask  uint16 // chips under scan
}

// FEB describes one front-end board and its place in the detector.
type FEB struct {
	ID    int `json:"feb"`
	Crate int `json:"crate"`
	Slot  int `json:"slot"`
	Scan  struct {
		Interval int `json:"interval"`
		DevMask  int `json:"devmask"`
	} `json:"scan_state"`
}

// ScanStates returns all recorded scan states.
func (db *DB) ScanStates(ctx context.Context) ([]ScanState, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var out []ScanState
	rows, err := db.db.QueryContext(ctx, "SELECT * FROM scanstates")
	if err != nil {
		return out, fmt.Errorf(
			"conddb: could not run scanstates query: %w",
			err,
		)
	}
	defer rows.Close()

	for rows.Next() {
		var st ScanState
		err = rows.Scan(&st.ID, &st.Config, &st.Interval, &st.DevMask)
		if err != nil {
			return out, fmt.Errorf(
				"conddb: could not scan scanstates: %w",
				err,
			)
		}
		out = append(out, st)
	}

	if err := rows.Err(); err != nil {
		return out, fmt.Errorf(
			"conddb: could not scan db for scanstates: %w",
			err,
		)
	}

	if err := ctx.Err(); err != nil {
		return out, fmt.Errorf(
			"conddb: context error while retrieving scanstates: %w",
			err,
		)
	}

	return out, nil
}

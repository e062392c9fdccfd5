// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conddb holds types to describe the condition and
// configuration database for MuTRiG front-end boards.
package conddb // import "github.com/yifeng-ethz/mutrig-controller/conddb"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const (
	host = "localhost"
)

var (
	usr = "username"
	pwd = "s3cr3t"

	drvName = "mysql"
)

// DB exposes convenience methods to retrieve MuTRiG configuration
// data from the conditions database.
type DB struct {
	db   *sql.DB
	name string
}

// Open opens a connection to the conditions database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("conddb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

// LastConfig returns the name of the most recent MuTRiG configuration
// set.
func (db *DB) LastConfig(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cfg := ""
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT mutrigconfig FROM detectors ORDER BY datetime DESC LIMIT 1",
	)
	if err != nil {
		return cfg, fmt.Errorf("conddb: could not query MuTRiG cfg: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&cfg)
		if err != nil {
			return cfg, fmt.Errorf("conddb: could not get MuTRiG cfg value: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return cfg, fmt.Errorf("conddb: could not scan db for MuTRiG cfg: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return cfg, fmt.Errorf("conddb: context error while retrieving MuTRiG cfg: %w", err)
	}

	return cfg, nil
}

// LastDetectorID returns the identifier of the most recent detector
// entry.
func (db *DB) LastDetectorID(ctx context.Context) (uint32, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var detid uint32
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT identifier FROM detectors ORDER BY datetime DESC LIMIT 1",
	)
	if err != nil {
		return detid, fmt.Errorf("conddb: could not query detector-id: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&detid)
		if err != nil {
			return detid, fmt.Errorf("conddb: could not get detector-id value: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return detid, fmt.Errorf("conddb: could not scan db for detector-id: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return detid, fmt.Errorf("conddb: context error while retrieving detector-id: %w", err)
	}

	return detid, nil
}

// ASICConfig returns the ASIC records of configuration set cfg for the
// front-end board febID.
func (db *DB) ASICConfig(ctx context.Context, cfg string, febID uint8) ([]ASIC, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var (
		out = make([]ASIC, 0, numASICs)
		err error
	)

	rows, err := db.db.QueryContext(
		ctx,
		`
SELECT asics.* FROM asics
JOIN mutrigconfig_asics ON asics.identifier=mutrigconfig_asics.asic
JOIN mutrigconfig       ON mutrigconfig.identifier=mutrigconfig_asics.mutrigconfig
WHERE (
	mutrigconfig.name=? AND asics.feb_id=?
)
`,
		cfg, febID,
	)
	if err != nil {
		return out, fmt.Errorf("conddb: could not run ASIC cfg query: %w", err)
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		var asic ASIC
		err = rows.Scan(
			&asic.PrimaryID, &asic.FEBID, &asic.ChipID,
			&asic.GenIdleSignal, &asic.RecvAllMode,
			&asic.ExtTrigMode, &asic.ExtTrigEndTime,
			&asic.TimingBias, &asic.PLLConfig, &asic.TDCConfig,
			&asic.DACChargePump, &asic.LVDSBias, &asic.AmpComBias,
			&asic.GlobalThreshold, &asic.ChannelMaskSel,
			&asic.Channels,
		)
		if err != nil {
			return out, fmt.Errorf("conddb: could not scan row %d for ASIC cfg: %w", i, err)
		}
		i++

		out = append(out, asic)
	}

	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("conddb: could not scan db for ASIC cfg: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return out, fmt.Errorf("conddb: context error while retrieving ASIC cfg: %w", err)
	}

	return out, nil
}

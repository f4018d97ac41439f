// Copyright 2015 ISRG.  All rights reserved
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package sa

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	borp "github.com/letsencrypt/borp"

	blog "github.com/iland112/local-pkd-sub003/log"
)

var dialectMap = map[string]borp.Dialect{
	"mysql": borp.MySQLDialect{Engine: "InnoDB", Encoding: "UTF8MB4"},
}

// NewDbMap creates the root borp mapping object. One of these is created
// per process; it holds the table map for every row model this package
// defines.
func NewDbMap(driver, name string, log blog.Logger) (*borp.DbMap, error) {
	db, err := sql.Open(driver, name)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}

	log.Debug(fmt.Sprintf("connecting to database %s", driver))

	dialect, ok := dialectMap[driver]
	if !ok {
		return nil, fmt.Errorf("no dialect registered for driver %q", driver)
	}

	dbmap := &borp.DbMap{Db: db, Dialect: dialect, TypeConverter: PkdTypeConverter{}}
	initTables(dbmap)

	log.Info(fmt.Sprintf("connected to database %s", driver))
	return dbmap, nil
}

// initTables constructs the table map for the ORM. Schema migrations are
// applied out of band (not via CreateTablesIfNotExists); this only teaches
// borp how Go structs line up with existing tables.
func initTables(dbMap *borp.DbMap) {
	uploadTable := dbMap.AddTableWithName(uploadModel{}, "uploaded_file").SetKeys(false, "ID")
	uploadTable.ColMap("FileName").SetMaxSize(512).SetNotNull(true)
	uploadTable.ColMap("ContentFingerprint").SetMaxSize(64).SetNotNull(true)

	certTable := dbMap.AddTableWithName(certificateModel{}, "certificate").SetKeys(false, "ID")
	certTable.ColMap("SubjectDN").SetMaxSize(1024)
	certTable.ColMap("IssuerDN").SetMaxSize(1024)
	certTable.ColMap("FingerprintSHA256").SetMaxSize(64).SetNotNull(true)

	dbMap.AddTableWithName(crlModel{}, "certificate_revocation_list").SetKeys(false, "ID")
	dbMap.AddTableWithName(masterListModel{}, "master_list").SetKeys(false, "ID")
}

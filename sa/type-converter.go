// Copyright 2015 ISRG.  All rights reserved
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package sa

import (
	borp "github.com/letsencrypt/borp"
)

// PkdTypeConverter is used by borp for storing/retrieving this package's row
// models. Every JSON-shaped column (ValidationErrors, RevokedSerials) is
// already stored pre-marshalled as a plain string field on the row model
// (see model.go), so unlike the teacher's BoulderTypeConverter there is
// nothing left to intercept here; it exists to satisfy borp.DbMap's
// TypeConverter field and to give future non-string column types (e.g. a
// dedicated JSON column type) one place to land.
type PkdTypeConverter struct{}

func (tc PkdTypeConverter) ToDb(val interface{}) (interface{}, error) {
	return val, nil
}

func (tc PkdTypeConverter) FromDb(target interface{}) (borp.CustomScanner, bool) {
	return borp.CustomScanner{}, false
}

// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package storage

import (
	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/omc-ai/elementStore-sub001/core/object"
	"github.com/omc-ai/elementStore-sub001/internal/storage/couchdb"
	"github.com/omc-ai/elementStore-sub001/internal/storage/jsonfile"
	"github.com/omc-ai/elementStore-sub001/internal/storage/mongodb"
	"github.com/omc-ai/elementStore-sub001/internal/storage/restful"
)

// ProviderConfig selects and configures a concrete provider.
type ProviderConfig struct {
	Type     object.StorageType
	DataRoot string
	URL      string
	Database string
	Username string
	Password string
}

// NewProvider builds the provider named by cfg.Type.
func NewProvider(cfg ProviderConfig, clk clock.Clock) (Provider, error) {
	switch cfg.Type {
	case object.StorageLocal, object.StorageJSON, "":
		p, err := jsonfile.New(cfg.DataRoot, clk)
		return p, errors.Trace(err)
	case object.StorageMongo:
		p, err := mongodb.New(mongodb.Config{URL: cfg.URL, Database: cfg.Database})
		return p, errors.Trace(err)
	case object.StorageCouchDB:
		p, err := couchdb.New(couchdb.Config{
			URL:      cfg.URL,
			Username: cfg.Username,
			Password: cfg.Password,
		}, clk)
		return p, errors.Trace(err)
	case object.StorageREST:
		p, err := restful.New(cfg.URL)
		return p, errors.Trace(err)
	}
	return nil, errors.Errorf("unknown storage type %q", cfg.Type)
}

package config

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/andrej220/guestcheck/pkg/config/configstore"
	"github.com/andrej220/guestcheck/pkg/config/filestore"
	"github.com/andrej220/guestcheck/pkg/config/mongostore"
)

type StoreType int

const (
	FileStore StoreType = iota
	MongoStore
)

var ErrInvalidStoreType = errors.New("invalid store type")

// Config combines the store capabilities with change notification.
type Config interface {
	configstore.ConfigStore
	Watch(ctx context.Context, onChange func()) error
	Close(ctx context.Context) error
}

type FileConfig struct {
	Path string `yaml:"path" json:"path"`
}

type MongoConfig struct {
	URI      string `yaml:"uri" json:"uri"`
	DBName   string `yaml:"dbName" json:"dbName"`
	CollName string `yaml:"collName" json:"collName"`
	ID       string `yaml:"id" json:"id"`
}

// ParseStoreType maps a -store flag value to a StoreType.
func ParseStoreType(s string) (StoreType, error) {
	switch s {
	case "file", "":
		return FileStore, nil
	case "mongo":
		return MongoStore, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidStoreType, s)
}

func NewStore(ctx context.Context, storeType StoreType, cfg any) (Config, error) {
	switch storeType {
	case FileStore:
		fileCfg, ok := cfg.(*FileConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for file store, expected *FileConfig")
		}
		return filestore.New(fileCfg.Path), nil
	case MongoStore:
		mongoCfg, ok := cfg.(*MongoConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for mongo store, expected *MongoConfig")
		}
		store, err := mongostore.New(ctx, mongoCfg.URI, mongoCfg.DBName, mongoCfg.CollName, mongoCfg.ID)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, ErrInvalidStoreType
	}
}

// StoreFlags selects the store holding the harness configuration.
type StoreFlags struct {
	Type  string
	File  FileConfig
	Mongo MongoConfig
}

func BindStoreFlags(fs *flag.FlagSet) *StoreFlags {
	f := &StoreFlags{}
	fs.StringVar(&f.Type, "store", "file", "configuration store: file or mongo")
	fs.StringVar(&f.File.Path, "config", "guestcheck.yaml", "path of the YAML configuration")
	fs.StringVar(&f.Mongo.URI, "mongo-uri", "mongodb://localhost:27017", "MongoDB URI of the configuration store")
	fs.StringVar(&f.Mongo.DBName, "mongo-db", "guestcheck", "MongoDB database of the configuration store")
	fs.StringVar(&f.Mongo.CollName, "mongo-coll", "config", "MongoDB collection of the configuration store")
	fs.StringVar(&f.Mongo.ID, "mongo-id", "guestcheck", "document id of the configuration")
	return f
}

func (f *StoreFlags) Open(ctx context.Context) (Config, error) {
	st, err := ParseStoreType(f.Type)
	if err != nil {
		return nil, err
	}
	if st == MongoStore {
		return NewStore(ctx, st, &f.Mongo)
	}
	return NewStore(ctx, st, &f.File)
}

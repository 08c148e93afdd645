package mongox

import (
	"context"
	"time"

	"CSProject/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type Config struct {
	Uri         string
	Database    string
	MaxPoolSize uint64
}

func (c *Config) norm() error {
	if c.Uri == "" {
		return errs.New("mongo uri is required")
	}
	if c.Database == "" {
		return errs.New("mongo database is required")
	}
	if c.MaxPoolSize == 0 {
		c.MaxPoolSize = 100
	}
	return nil
}

var db *mongo.Database

// Init 建连并 ping 验证；启动期调用一次。
func Init(ctx context.Context, cfg Config) error {
	if err := cfg.norm(); err != nil {
		return err
	}
	opts := options.Client().ApplyURI(cfg.Uri).SetMaxPoolSize(cfg.MaxPoolSize)

	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return errs.ErrTransient.WrapMsg("mongo connect", "err", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pingCtx, readpref.Primary()); err != nil {
		return errs.ErrTransient.WrapMsg("mongo ping", "err", err)
	}
	db = cli.Database(cfg.Database)
	return nil
}

func GetDB() *mongo.Database { return db }

// Package userclient owns the MTProto user session: the live update feed
// and the history source behind backfills.
package userclient

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/ext"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/charmbracelet/log"
	"github.com/ncruces/go-sqlite3/gormlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/arclbx/tgindex/config"
)

var uc *UserClient

func GetUserClient() *UserClient {
	if uc == nil {
		panic("UserClient is not initialized, call NewUserClient first")
	}
	return uc
}

type UserClient struct {
	TClient *gotgproto.Client
	logger  *zap.Logger
	ectx    *ext.Context
	mu      sync.Mutex
}

func (u *UserClient) GetContext() *ext.Context {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.ectx == nil {
		u.ectx = u.TClient.CreateContext()
	}
	return u.ectx
}

func (u *UserClient) Close() error {
	if u.logger != nil {
		return u.logger.Sync()
	}
	return nil
}

// NewUserClient builds and authorizes the MTProto client. The gotd client
// logs to its own rotating file so protocol noise stays out of the app log.
func NewUserClient(ctx context.Context) (*UserClient, error) {
	if uc != nil {
		return uc, nil
	}
	log.FromContext(ctx).Debug("Initializing user client")
	res := make(chan struct {
		client *UserClient
		err    error
	})
	go func() {
		tclientLog := zap.New(zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   filepath.Join(config.C.DataDir, "logs", "client.jsonl"),
				MaxBackups: 3,
				MaxAge:     7,
			}),
			zap.DebugLevel,
		))
		tclient, err := gotgproto.NewClient(
			config.C.AppID,
			config.C.AppHash,
			gotgproto.ClientTypePhone(""),
			&gotgproto.ClientOpts{
				Session: sessionMaker.SqlSession(
					gormlite.Open(filepath.Join(config.C.DataDir, "session_user.db"))),
				Logger:           tclientLog,
				Context:          ctx,
				DisableCopyright: true,
			},
		)
		if err != nil {
			res <- struct {
				client *UserClient
				err    error
			}{nil, err}
			return
		}
		res <- struct {
			client *UserClient
			err    error
		}{&UserClient{
			TClient: tclient,
			logger:  tclientLog,
			ectx:    tclient.CreateContext(),
		}, nil}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-res:
		if r.err != nil {
			return nil, r.err
		}
		uc = r.client
		return uc, nil
	}
}

//go:build cgo

package plugins

import (
	"github.com/jrife/kvgate/storage/kv/plugins/lmdb"
)

func init() {
	plugins = append(plugins, lmdb.Plugins()...)
}

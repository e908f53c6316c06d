package signal

import "github.com/viant/curator/config"

func vectorConfig() config.Vector { return config.Default().Vector }

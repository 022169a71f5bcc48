package notify

import (
	"time"

	"github.com/ceyewan/dualpath/xerrors"
)

// HeaderEncoding 消息头中的编码方式
const HeaderEncoding = "Dualpath-Encoding"

// Config 状态广播配置
//
//	notify:
//	  enabled: true
//	  url: nats://127.0.0.1:4222
//	  subject: dualpath.connectivity
//	  serializer: json   # json|msgpack
type Config struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	Subject       string        `mapstructure:"subject"`
	Serializer    string        `mapstructure:"serializer"`
	Source        string        `mapstructure:"source"`
	Token         string        `mapstructure:"token"`
	Timeout       time.Duration `mapstructure:"timeout"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
}

func (c *Config) setDefaults() {
	if c.URL == "" {
		c.URL = "nats://127.0.0.1:4222"
	}
	if c.Subject == "" {
		c.Subject = "dualpath.connectivity"
	}
	if c.Serializer == "" {
		c.Serializer = "json"
	}
	if c.Source == "" {
		c.Source = "dualpath"
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 60
	}
}

func (c *Config) validate() error {
	if c.Subject == "" || c.Subject[0] == '.' || c.Subject[len(c.Subject)-1] == '.' {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "notify: invalid subject %q", c.Subject)
	}
	return nil
}

package config

import (
	"fmt"
	"time"
)

// ConfigFile mirrors Config for file parsing. Durations are strings such as "30s";
// absent fields leave the current value untouched.
type ConfigFile struct {
	HTTP *struct {
		Host            string   `json:"host" yaml:"host"`
		Port            int      `json:"port" yaml:"port"`
		ReadTimeout     string   `json:"read_timeout" yaml:"read_timeout"`
		WriteTimeout    string   `json:"write_timeout" yaml:"write_timeout"`
		ShutdownTimeout string   `json:"shutdown_timeout" yaml:"shutdown_timeout"`
		AllowedOrigins  []string `json:"allowed_origins" yaml:"allowed_origins"`
	} `json:"http" yaml:"http"`

	WebSocket *struct {
		PingInterval    string `json:"ping_interval" yaml:"ping_interval"`
		ReadTimeout     string `json:"read_timeout" yaml:"read_timeout"`
		WriteTimeout    string `json:"write_timeout" yaml:"write_timeout"`
		BufferSize      int    `json:"buffer_size" yaml:"buffer_size"`
		MaxMessageBytes int64  `json:"max_message_bytes" yaml:"max_message_bytes"`
	} `json:"websocket" yaml:"websocket"`

	Database *struct {
		Enabled        *bool  `json:"enabled" yaml:"enabled"`
		Path           string `json:"path" yaml:"path"`
		MaxConnections int    `json:"max_connections" yaml:"max_connections"`
		WriteBuffer    int    `json:"write_buffer" yaml:"write_buffer"`
		RetryDelay     string `json:"retry_delay" yaml:"retry_delay"`
	} `json:"database" yaml:"database"`

	Hub *struct {
		QueueSize int `json:"queue_size" yaml:"queue_size"`
	} `json:"hub" yaml:"hub"`

	Rooms *struct {
		PurgeThreshold     *int `json:"purge_threshold" yaml:"purge_threshold"`
		MaxEventsPerMinute *int `json:"max_events_per_minute" yaml:"max_events_per_minute"`
	} `json:"rooms" yaml:"rooms"`

	Logging *struct {
		Level  string `json:"level" yaml:"level"`
		Format string `json:"format" yaml:"format"`
	} `json:"logging" yaml:"logging"`

	Auth *struct {
		Secret      string `json:"secret" yaml:"secret"`
		TokenExpiry string `json:"token_expiry" yaml:"token_expiry"`
	} `json:"auth" yaml:"auth"`

	Compiler *struct {
		Endpoint     string `json:"endpoint" yaml:"endpoint"`
		ClientID     string `json:"client_id" yaml:"client_id"`
		ClientSecret string `json:"client_secret" yaml:"client_secret"`
		Timeout      string `json:"timeout" yaml:"timeout"`
	} `json:"compiler" yaml:"compiler"`

	ProfileImage *struct {
		AllowedSuffix string `json:"allowed_suffix" yaml:"allowed_suffix"`
		Timeout       string `json:"timeout" yaml:"timeout"`
	} `json:"profile_image" yaml:"profile_image"`
}

func (f *ConfigFile) apply(c *Config) error {
	var errs durationErrors

	if s := f.HTTP; s != nil {
		setString(&c.HTTP.Host, s.Host)
		setInt(&c.HTTP.Port, s.Port)
		errs.set(&c.HTTP.ReadTimeout, "http.read_timeout", s.ReadTimeout)
		errs.set(&c.HTTP.WriteTimeout, "http.write_timeout", s.WriteTimeout)
		errs.set(&c.HTTP.ShutdownTimeout, "http.shutdown_timeout", s.ShutdownTimeout)
		if s.AllowedOrigins != nil {
			c.HTTP.AllowedOrigins = s.AllowedOrigins
		}
	}

	if s := f.WebSocket; s != nil {
		errs.set(&c.WebSocket.PingInterval, "websocket.ping_interval", s.PingInterval)
		errs.set(&c.WebSocket.ReadTimeout, "websocket.read_timeout", s.ReadTimeout)
		errs.set(&c.WebSocket.WriteTimeout, "websocket.write_timeout", s.WriteTimeout)
		setInt(&c.WebSocket.BufferSize, s.BufferSize)
		if s.MaxMessageBytes > 0 {
			c.WebSocket.MaxMessageBytes = s.MaxMessageBytes
		}
	}

	if s := f.Database; s != nil {
		if s.Enabled != nil {
			c.Database.Enabled = *s.Enabled
		}
		setString(&c.Database.Path, s.Path)
		setInt(&c.Database.MaxConnections, s.MaxConnections)
		setInt(&c.Database.WriteBuffer, s.WriteBuffer)
		errs.set(&c.Database.RetryDelay, "database.retry_delay", s.RetryDelay)
	}

	if s := f.Hub; s != nil {
		setInt(&c.Hub.QueueSize, s.QueueSize)
	}

	// Zero is meaningful for both room settings, so only nil leaves them alone
	if s := f.Rooms; s != nil {
		if s.PurgeThreshold != nil {
			c.Rooms.PurgeThreshold = *s.PurgeThreshold
		}
		if s.MaxEventsPerMinute != nil {
			c.Rooms.MaxEventsPerMinute = *s.MaxEventsPerMinute
		}
	}

	if s := f.Logging; s != nil {
		setString(&c.Logging.Level, s.Level)
		setString(&c.Logging.Format, s.Format)
	}

	if s := f.Auth; s != nil {
		setString(&c.Auth.Secret, s.Secret)
		errs.set(&c.Auth.TokenExpiry, "auth.token_expiry", s.TokenExpiry)
	}

	if s := f.Compiler; s != nil {
		setString(&c.Compiler.Endpoint, s.Endpoint)
		setString(&c.Compiler.ClientID, s.ClientID)
		setString(&c.Compiler.ClientSecret, s.ClientSecret)
		errs.set(&c.Compiler.Timeout, "compiler.timeout", s.Timeout)
	}

	if s := f.ProfileImage; s != nil {
		setString(&c.ProfileImage.AllowedSuffix, s.AllowedSuffix)
		errs.set(&c.ProfileImage.Timeout, "profile_image.timeout", s.Timeout)
	}

	return errs.err()
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// durationErrors keeps the first bad duration field
type durationErrors struct {
	first error
}

func (e *durationErrors) set(dst *time.Duration, field, v string) {
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		if e.first == nil {
			e.first = fmt.Errorf("%s: %w", field, err)
		}
		return
	}
	*dst = d
}

func (e *durationErrors) err() error {
	return e.first
}

package rtc

import (
	"fmt"
	"time"

	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// CodecRegistrar fills a MediaEngine with the codecs local tracks encode to.
// *mediadevices.CodecSelector satisfies it.
type CodecRegistrar interface {
	Populate(*webrtc.MediaEngine)
}

// Factory builds one pion API per connection so codec state never leaks
// between calls.
type Factory struct {
	Codecs CodecRegistrar
	// Fallback is used when the capability carries no transport config. An
	// explicit empty server list is kept as is.
	Fallback []webrtc.ICEServer

	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration

	log zerolog.Logger
}

func NewFactory(codecs CodecRegistrar, fallback []string, log zerolog.Logger) *Factory {
	var servers []webrtc.ICEServer
	if len(fallback) > 0 {
		servers = []webrtc.ICEServer{{URLs: fallback}}
	}
	return &Factory{
		Codecs:              codecs,
		Fallback:            servers,
		DisconnectedTimeout: 30 * time.Second,
		FailedTimeout:       120 * time.Second,
		KeepAliveInterval:   2 * time.Second,
		log:                 log.With().Str("module", "webrtc").Logger(),
	}
}

func (f *Factory) api() (*webrtc.API, error) {
	me := &webrtc.MediaEngine{}
	if f.Codecs != nil {
		f.Codecs.Populate(me)
	} else if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(f.DisconnectedTimeout, f.FailedTimeout, f.KeepAliveInterval)
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	), nil
}

func (f *Factory) NewConnection(servers []domain.ICEServer, sid core.SessionID) (core.MediaConnection, error) {
	api, err := f.api()
	if err != nil {
		return nil, err
	}
	conf := f.configuration(servers)
	pc, err := api.NewPeerConnection(conf)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	f.log.Debug().Str("sid", string(sid)).Int("ice_servers", len(conf.ICEServers)).Msg("peer connection created")
	return newWebRTCConnection(pc, sid, f.log), nil
}

func (f *Factory) configuration(servers []domain.ICEServer) webrtc.Configuration {
	if servers == nil {
		return webrtc.Configuration{ICEServers: f.Fallback}
	}
	return webrtc.Configuration{ICEServers: ICEServers(servers)}
}

// ICEServers converts the backend's transport config.
// A nil list stays nil; an empty one stays empty.
func ICEServers(servers []domain.ICEServer) []webrtc.ICEServer {
	if servers == nil {
		return nil
	}
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
			srv.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, srv)
	}
	return out
}

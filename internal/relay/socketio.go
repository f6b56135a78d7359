// Package relay pairs a greeter process with a browser wallet page over
// socket.io.
//
// Each pairing id admits one dapp socket and one wallet socket, both
// authenticated by pairing tokens. The relay forwards wallet-request events
// from the dapp to the wallet and acks the wallet's answer back; wallet push
// events travel the other way. The relay keeps no state beyond the live
// sockets.
package relay

import (
	"net/http"
	"sync"
	"time"

	"github.com/bhandras/greeter/internal/crypto"
	"github.com/bhandras/greeter/internal/metrics"
	"github.com/bhandras/greeter/pkg/logger"
	"github.com/bhandras/greeter/pkg/wire"
	"github.com/gin-gonic/gin"
	socket "github.com/zishang520/socket.io/servers/socket/v3"
	sockettypes "github.com/zishang520/socket.io/v3/pkg/types"
)

const (
	// pingInterval is how often the server pings sockets; with pingTimeout
	// it bounds how long a vanished wallet page stays "online".
	pingInterval = 5 * time.Second
	pingTimeout  = 15 * time.Second
)

// Options configures a Server.
type Options struct {
	Verifier TokenVerifier
	// Metrics is optional.
	Metrics *metrics.Metrics
	// RequestTimeout bounds one forwarded wallet request.
	RequestTimeout time.Duration
	// Rate and Burst configure the per-pairing request limiter. A
	// non-positive value disables limiting.
	Rate  float64
	Burst int
}

// Server is the socket.io side of the relay.
type Server struct {
	verifier TokenVerifier
	metrics  *metrics.Metrics
	timeout  time.Duration
	now      func() time.Time

	server   *socket.Server
	sockets  sync.Map // socket id -> *socketData
	registry *Registry
	limiter  *pairingLimiter
}

// socketData is the metadata stored per authenticated socket.
type socketData struct {
	Peer
	Socket *socket.Socket
}

// NewServer creates the socket.io server and installs its handlers.
func NewServer(opts Options) *Server {
	sopts := socket.DefaultServerOptions()
	sopts.SetCors(&sockettypes.Cors{
		Origin:      "*",
		Credentials: false,
	})
	sopts.SetPingTimeout(pingTimeout)
	sopts.SetPingInterval(pingInterval)
	sopts.SetPath(wire.SocketPath)

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	s := &Server{
		verifier: opts.Verifier,
		metrics:  opts.Metrics,
		timeout:  timeout,
		now:      time.Now,
		server:   socket.NewServer(nil, sopts),
		registry: NewRegistry(),
		limiter:  newPairingLimiter(opts.Rate, opts.Burst, 0),
	}
	s.server.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		s.handleConnection(client)
	})
	return s
}

// Registry exposes the pairing registry for health reporting.
func (s *Server) Registry() *Registry { return s.registry }

func (s *Server) handleConnection(client *socket.Socket) {
	socketID := string(client.Id())
	logger.Debugf("Relay connection attempt (socket %s)", socketID)

	authMap := client.Handshake().Auth
	if len(authMap) == 0 {
		s.reject(client, "Missing authentication data")
		return
	}
	var auth wire.SocketAuthPayload
	if err := decodeAny(authMap, &auth); err != nil {
		s.reject(client, "Invalid authentication data")
		return
	}
	peer, err := Authenticate(s.verifier, auth, socketID)
	if err != nil {
		s.reject(client, err.Error())
		return
	}

	s.sockets.Store(socketID, &socketData{Peer: peer, Socket: client})
	if s.metrics != nil {
		s.metrics.RelaySockets.WithLabelValues(string(peer.Role)).Inc()
	}
	logger.Infof("Relay %s joined pairing %s (socket %s)", peer.Role, peer.PairingID, socketID)

	if prev, displaced := s.registry.Join(peer.PairingID, peer.Role, socketID); displaced {
		if old := s.getSocketData(prev); old != nil {
			logger.Infof("Relay %s socket %s replaced by %s", peer.Role, prev, socketID)
			old.Socket.Emit(wire.EventError, wire.ErrorPayload{Message: "replaced by a newer connection"})
			old.Socket.Disconnect(true)
		}
	}

	switch peer.Role {
	case crypto.RoleWallet:
		s.emitToRole(peer.PairingID, crypto.RoleDapp, wire.EventWalletPresence, wire.PresencePayload{Online: true})
	case crypto.RoleDapp:
		_, online := s.registry.Lookup(peer.PairingID, crypto.RoleWallet)
		client.Emit(wire.EventWalletPresence, wire.PresencePayload{Online: online})
	}

	s.registerClientHandlers(client, peer)
}

func (s *Server) reject(client *socket.Socket, message string) {
	logger.Warnf("Relay handshake rejected (socket %s): %s", client.Id(), message)
	client.Emit(wire.EventError, wire.ErrorPayload{Message: message})
	client.Disconnect(true)
}

func (s *Server) registerClientHandlers(client *socket.Socket, peer Peer) {
	client.On(wire.EventWalletRequest, func(data ...any) {
		raw, ack := getFirstAnyWithAck(data)
		if ack == nil {
			logger.Warnf("Relay dropping %s without ack (socket %s)", wire.EventWalletRequest, peer.SocketID)
			return
		}
		var req wire.WalletRequest
		if err := decodeAny(raw, &req); err != nil {
			ack(*errorResponse("", wire.CodeInvalidRequest, "Invalid parameters"))
			s.countRequest(metrics.OutcomeRejected)
			return
		}

		allowed := s.limiter.Allow(peer.PairingID, s.now())
		if !allowed && s.metrics != nil {
			s.metrics.RelayRateLimited.Inc()
		}
		forward, immediate := WalletRequest(peer, s.registry, req, allowed, s.timeout)
		if immediate != nil {
			logger.Debugf("Relay refused %s: %s", req.Method, immediate.Error.Message)
			ack(*immediate)
			s.countRequest(metrics.OutcomeRejected)
			return
		}

		target := s.getSocketData(forward.TargetSocketID())
		if target == nil {
			ack(*errorResponse(req.ID, wire.CodeDisconnected, "wallet not connected"))
			s.countRequest(metrics.OutcomeRejected)
			return
		}
		logger.Tracef("Relay forwarding %s id=%s to %s", req.Method, req.ID, forward.TargetSocketID())

		target.Socket.Timeout(forward.Timeout()).EmitWithAck(wire.EventWalletRequest, forward.Request())(func(args []any, err error) {
			if err != nil {
				logger.Warnf("Relay %s id=%s: %v", req.Method, req.ID, err)
				s.countRequest(metrics.OutcomeFailed)
			} else {
				s.countRequest(metrics.OutcomeOK)
			}
			ack(WalletAck(forward.Request(), args, err))
		})
	})

	client.On(wire.EventAccountsChanged, func(data ...any) {
		var payload wire.AccountsChangedPayload
		raw, _ := getFirstAnyWithAck(data)
		if err := decodeAny(raw, &payload); err != nil {
			logger.Warnf("Relay invalid %s payload (socket %s): %v", wire.EventAccountsChanged, peer.SocketID, err)
			return
		}
		if payload.Accounts == nil {
			payload.Accounts = []string{}
		}
		s.forwardWalletEvent(peer, wire.EventAccountsChanged, payload)
	})

	client.On(wire.EventChainChanged, func(data ...any) {
		var payload wire.ChainChangedPayload
		raw, _ := getFirstAnyWithAck(data)
		if err := decodeAny(raw, &payload); err != nil || payload.ChainID == "" {
			logger.Warnf("Relay invalid %s payload (socket %s)", wire.EventChainChanged, peer.SocketID)
			return
		}
		s.forwardWalletEvent(peer, wire.EventChainChanged, payload)
	})

	client.On("disconnect", func(data ...any) {
		reason := ""
		if len(data) > 0 {
			if r, ok := data[0].(string); ok {
				reason = r
			}
		}
		logger.Infof("Relay %s left pairing %s (socket %s, reason: %s)", peer.Role, peer.PairingID, peer.SocketID, reason)

		s.sockets.Delete(peer.SocketID)
		if s.metrics != nil {
			s.metrics.RelaySockets.WithLabelValues(string(peer.Role)).Dec()
		}
		if s.registry.Leave(peer.PairingID, peer.Role, peer.SocketID) && peer.Role == crypto.RoleWallet {
			s.emitToRole(peer.PairingID, crypto.RoleDapp, wire.EventWalletPresence, wire.PresencePayload{Online: false})
		}
	})
}

func (s *Server) forwardWalletEvent(peer Peer, event string, payload any) {
	target, ok := WalletEvent(peer, s.registry)
	if !ok {
		logger.Debugf("Relay dropping %s for pairing %s: no dapp", event, peer.PairingID)
		return
	}
	if sd := s.getSocketData(target); sd != nil {
		sd.Socket.Emit(event, payload)
	}
}

func (s *Server) emitToRole(pairingID string, role crypto.Role, event string, payload any) {
	id, ok := s.registry.Lookup(pairingID, role)
	if !ok {
		return
	}
	if sd := s.getSocketData(id); sd != nil {
		sd.Socket.Emit(event, payload)
	}
}

func (s *Server) countRequest(outcome string) {
	if s.metrics != nil {
		s.metrics.RelayRequestsTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Server) getSocketData(socketID string) *socketData {
	if v, ok := s.sockets.Load(socketID); ok {
		if sd, ok := v.(*socketData); ok {
			return sd
		}
	}
	return nil
}

func getFirstAnyWithAck(data []any) (any, func(...any)) {
	var ack func(...any)
	if len(data) == 0 {
		return nil, nil
	}
	if cb, ok := data[len(data)-1].(func(...any)); ok {
		ack = cb
		data = data[:len(data)-1]
	} else if cb, ok := data[len(data)-1].(socket.Ack); ok {
		ack = func(args ...any) {
			cb(args, nil)
		}
		data = data[:len(data)-1]
	}
	if len(data) == 0 {
		return nil, ack
	}
	return data[0], ack
}

// HandleSocketIO returns a gin handler serving the socket.io endpoint.
func (s *Server) HandleSocketIO() gin.HandlerFunc {
	httpHandler := s.server.ServeHandler(nil)

	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "false")

		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusOK)
			return
		}
		httpHandler.ServeHTTP(c.Writer, c.Request)
	}
}

// Close shuts down the socket.io server.
func (s *Server) Close() error {
	s.server.Close(nil)
	return nil
}

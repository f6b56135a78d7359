package relay

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/bhandras/greeter/internal/crypto"
	"github.com/bhandras/greeter/pkg/wire"
)

// DefaultRequestTimeout bounds how long the relay waits for the wallet to
// answer one request.
const DefaultRequestTimeout = 2 * time.Minute

var (
	errMissingToken = errors.New("Missing authentication token")
	errInvalidToken = errors.New("Invalid authentication token")
)

// TokenVerifier checks pairing tokens. *crypto.JWTManager implements it.
type TokenVerifier interface {
	VerifyToken(token string) (*crypto.PairingClaims, error)
}

// SocketLocator finds the socket holding a role of a pairing.
type SocketLocator interface {
	Lookup(pairingID string, role crypto.Role) (string, bool)
}

// Peer is an authenticated relay socket.
type Peer struct {
	PairingID string
	Role      crypto.Role
	SocketID  string
}

// Authenticate validates the handshake auth payload of socketID.
func Authenticate(verifier TokenVerifier, auth wire.SocketAuthPayload, socketID string) (Peer, error) {
	if auth.Token == "" {
		return Peer{}, errMissingToken
	}
	claims, err := verifier.VerifyToken(auth.Token)
	if err != nil {
		return Peer{}, errInvalidToken
	}
	return Peer{PairingID: claims.Pairing, Role: claims.Role, SocketID: socketID}, nil
}

// RequestForward describes one wallet-request the transport adapter should
// forward to the wallet socket.
type RequestForward struct {
	targetSocketID string
	request        wire.WalletRequest
	timeout        time.Duration
}

// TargetSocketID returns the wallet socket id.
func (f RequestForward) TargetSocketID() string { return f.targetSocketID }

// Request returns the payload to forward.
func (f RequestForward) Request() wire.WalletRequest { return f.request }

// Timeout returns how long to wait for the wallet's ack.
func (f RequestForward) Timeout() time.Duration { return f.timeout }

// WalletRequest validates a dapp wallet-request and returns either a forward
// instruction or an immediate ack. allowed is the rate limiter's decision
// for the pairing.
func WalletRequest(peer Peer, locator SocketLocator, req wire.WalletRequest, allowed bool, timeout time.Duration) (*RequestForward, *wire.WalletResponse) {
	if peer.Role != crypto.RoleDapp {
		return nil, errorResponse(req.ID, wire.CodeInvalidRequest, "only the dapp may send wallet requests")
	}
	if req.Method == "" {
		return nil, errorResponse(req.ID, wire.CodeInvalidRequest, "Invalid parameters: method is required")
	}
	if !allowed {
		return nil, errorResponse(req.ID, wire.CodeLimitExceeded, "rate limit exceeded")
	}
	target, ok := locator.Lookup(peer.PairingID, crypto.RoleWallet)
	if !ok {
		return nil, errorResponse(req.ID, wire.CodeDisconnected, "wallet not connected")
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &RequestForward{targetSocketID: target, request: req, timeout: timeout}, nil
}

// WalletAck converts the wallet's ack (or the ack failure) into the response
// sent back to the dapp.
func WalletAck(req wire.WalletRequest, args []any, err error) wire.WalletResponse {
	if err != nil {
		return *errorResponse(req.ID, wire.CodeInternal, "wallet did not respond: "+err.Error())
	}
	if len(args) == 0 || args[0] == nil {
		return *errorResponse(req.ID, wire.CodeInternal, "empty wallet response")
	}
	var resp wire.WalletResponse
	if err := decodeAny(args[0], &resp); err != nil {
		return *errorResponse(req.ID, wire.CodeInternal, "invalid wallet response")
	}
	resp.ID = req.ID
	return resp
}

// WalletEvent returns the dapp socket a wallet push event should be forwarded
// to. Only the wallet side may push.
func WalletEvent(peer Peer, locator SocketLocator) (string, bool) {
	if peer.Role != crypto.RoleWallet {
		return "", false
	}
	return locator.Lookup(peer.PairingID, crypto.RoleDapp)
}

func errorResponse(id string, code int, message string) *wire.WalletResponse {
	return &wire.WalletResponse{ID: id, Error: &wire.ProviderError{Code: code, Message: message}}
}

func decodeAny(input any, out any) error {
	raw, err := json.Marshal(input)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

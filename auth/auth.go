// Package auth はボット接続の salt/hash ハンドシェイクを行います。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"botarena/gateway"
	"botarena/models"

	"go.uber.org/zap"
)

var (
	ErrHandshakeTimeout = errors.New("handshake timed out")
	ErrClosedEarly      = errors.New("connection closed during handshake")
	ErrMalformedLogin   = errors.New("malformed login message")
	ErrUnknownGame      = errors.New("unknown game type")
	ErrBadCredentials   = errors.New("invalid credentials")
)

// Bot は認証済みの接続です。接続が閉じるまで存在します。
type Bot struct {
	Conn     gateway.Conn
	GameType string
	Name     string
	Contest  string
}

// CredentialFinder は認証情報の参照先です。見つからない場合はエラーを返します。
type CredentialFinder interface {
	FindCredential(ctx context.Context, gameType, name string) (*models.Credential, error)
}

// Roster は認証済みボットの入退場を受け取ります。
// Removed は Added された接続ごとに一度だけ呼ばれます。
type Roster interface {
	Added(bot *Bot)
	Removed(bot *Bot)
}

// Login はボットが送るログインメッセージです。
type Login struct {
	GameType     string `json:"gameType"`
	Name         string `json:"name"`
	PasswordHash string `json:"passwordHash"`
	Contest      string `json:"contest,omitempty"`
}

type saltMessage struct {
	Salt string `json:"salt"`
}

type resultMessage struct {
	Authentication string  `json:"authentication"`
	GameType       string  `json:"gameType,omitempty"`
	Name           string  `json:"name,omitempty"`
	Contest        *string `json:"contest,omitempty"`
}

type Authenticator struct {
	finder    CredentialFinder
	roster    Roster
	knownGame func(gameType string) bool
	timeout   time.Duration
	logger    *zap.Logger
}

// New は Authenticator を作ります。knownGame が nil なら gameType を検査しません。
func New(finder CredentialFinder, roster Roster, knownGame func(string) bool, timeout time.Duration, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		finder:    finder,
		roster:    roster,
		knownGame: knownGame,
		timeout:   timeout,
		logger:    logger,
	}
}

// HashPassword はハンドシェイクで送るべきハッシュを計算します。
// storedHash は登録済みのパスワードハッシュです。
func HashPassword(storedHash, salt string) string {
	sum := sha256.Sum256([]byte(storedHash + salt))
	return hex.EncodeToString(sum[:])
}

// NewSalt は16バイトの乱数を16進文字列で返します。
func NewSalt() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Handle は1本の接続のハンドシェイクを行います。
// 成功すると Roster.Added を呼び、接続終了時に Roster.Removed を一度だけ呼びます。
// 失敗した場合は {"authentication":"failed"} を送って接続を閉じます。
func (a *Authenticator) Handle(ctx context.Context, conn gateway.Conn) (*Bot, error) {
	logger := a.logger.With(zap.String("connID", conn.ID()))

	bot, err := a.handshake(ctx, conn)
	if err != nil {
		logger.Info("Authentication failed", zap.Error(err))
		if sendErr := conn.Send(resultMessage{Authentication: "failed"}); sendErr != nil && !errors.Is(sendErr, gateway.ErrClosed) {
			logger.Warn("Failed to send authentication result", zap.Error(sendErr))
		}
		conn.Close()
		return nil, err
	}

	contest := bot.Contest
	if err := conn.Send(resultMessage{
		Authentication: "OK",
		GameType:       bot.GameType,
		Name:           bot.Name,
		Contest:        &contest,
	}); err != nil {
		logger.Info("Connection lost before authentication result", zap.Error(err))
		conn.Close()
		return nil, fmt.Errorf("send authentication result: %w", err)
	}
	logger.Info("Bot authenticated",
		zap.String("gameType", bot.GameType),
		zap.String("name", bot.Name),
		zap.String("contest", bot.Contest),
	)

	a.roster.Added(bot)
	go func() {
		<-conn.Closed()
		logger.Info("Bot disconnected", zap.String("name", bot.Name), zap.NamedError("cause", conn.Err()))
		a.roster.Removed(bot)
	}()
	return bot, nil
}

type lookupResult struct {
	credential *models.Credential
	err        error
}

func (a *Authenticator) handshake(ctx context.Context, conn gateway.Conn) (*Bot, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	salt, err := NewSalt()
	if err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	if err := conn.Send(saltMessage{Salt: salt}); err != nil {
		return nil, fmt.Errorf("send salt: %w", err)
	}

	// 最初の1メッセージだけを待つ
	var msg gateway.Message
	select {
	case msg = <-conn.Incoming():
	case <-conn.Closed():
		return nil, ErrClosedEarly
	case <-ctx.Done():
		return nil, a.deadlineError(ctx)
	}

	if msg.Malformed {
		return nil, fmt.Errorf("%w: not JSON", ErrMalformedLogin)
	}
	var login Login
	if err := json.Unmarshal(msg.Payload, &login); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLogin, err)
	}
	if login.GameType == "" || login.Name == "" || login.PasswordHash == "" {
		return nil, fmt.Errorf("%w: missing fields", ErrMalformedLogin)
	}
	if a.knownGame != nil && !a.knownGame(login.GameType) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGame, login.GameType)
	}

	// タイムアウトとDB参照を競争させる。負けた側の結果は捨てる
	results := make(chan lookupResult, 1)
	go func() {
		credential, err := a.finder.FindCredential(ctx, login.GameType, login.Name)
		results <- lookupResult{credential: credential, err: err}
	}()

	var res lookupResult
	select {
	case res = <-results:
	case <-conn.Closed():
		return nil, ErrClosedEarly
	case <-ctx.Done():
		return nil, a.deadlineError(ctx)
	}
	if res.err != nil && ctx.Err() != nil {
		return nil, a.deadlineError(ctx)
	}
	if res.err != nil {
		return nil, fmt.Errorf("lookup %s/%s: %w", login.GameType, login.Name, res.err)
	}
	if res.credential == nil {
		return nil, ErrBadCredentials
	}

	expected := HashPassword(res.credential.PasswordHash, salt)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(login.PasswordHash)) != 1 {
		return nil, ErrBadCredentials
	}

	return &Bot{
		Conn:     conn,
		GameType: login.GameType,
		Name:     login.Name,
		Contest:  login.Contest,
	}, nil
}

func (a *Authenticator) deadlineError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrHandshakeTimeout
	}
	return ctx.Err()
}

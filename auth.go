package pgfe

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/pgfe/pgfe/protocol"
)

// authenticate answers a single Authentication request from the backend.
// AuthenticationOk needs no answer; the password-based methods send their
// response and leave the outcome (Ok or ErrorResponse) to the startup loop.
func (c *Conn) authenticate(m protocol.Message) error {
	code, err := m.AuthType()
	if err != nil {
		c.fault()
		return wrapErr(KindProtocol, err, "decoding authentication request")
	}

	switch code {
	case protocol.AuthOK:
		return nil
	case protocol.AuthCleartextPassword:
		if err := c.requirePassword(); err != nil {
			return err
		}
		c.log.Debug("authenticating", "method", "cleartext")
		return c.write(protocol.PasswordMessage(c.cfg.Password))
	case protocol.AuthMD5Password:
		if err := c.requirePassword(); err != nil {
			return err
		}
		salt, err := m.AuthSalt()
		if err != nil {
			c.fault()
			return wrapErr(KindProtocol, err, "decoding md5 salt")
		}
		c.log.Debug("authenticating", "method", "md5")
		return c.write(protocol.PasswordMessage(md5Response(c.cfg.Password, c.cfg.User, salt)))
	case protocol.AuthSASL:
		mechanisms, err := m.AuthMechanisms()
		if err != nil {
			c.fault()
			return wrapErr(KindProtocol, err, "decoding SASL mechanisms")
		}
		return c.authenticateScram(mechanisms)
	default:
		return newErr(KindAuth, "server requested unsupported authentication method %d", code)
	}
}

func (c *Conn) requirePassword() error {
	if c.cfg.Password == "" {
		return newErr(KindAuth, "server requested a password and none was supplied")
	}
	return nil
}

// md5Response computes concat("md5", md5(concat(md5(concat(password, user)),
// salt))) in hex, the credential the backend compares against pg_authid.
func md5Response(password, user string, salt []byte) string {
	inner := fmt.Sprintf("%x", md5.Sum([]byte(password+user)))
	return fmt.Sprintf("md5%x", md5.Sum(append([]byte(inner), salt...)))
}

// authenticateScram runs the client side of a SCRAM-SHA-256 exchange
// (RFC 7677 without channel binding). It consumes the SASLContinue and
// SASLFinal messages itself and returns with AuthenticationOk still
// unread.
func (c *Conn) authenticateScram(mechanisms []string) error {
	supported := false
	for _, m := range mechanisms {
		if m == "SCRAM-SHA-256" {
			supported = true
		}
	}
	if !supported {
		return newErr(KindAuth, "no supported SASL mechanism offered (got %s)", strings.Join(mechanisms, ", "))
	}
	if err := c.requirePassword(); err != nil {
		return err
	}
	c.log.Debug("authenticating", "method", "scram-sha-256")

	nonceRaw := make([]byte, 18)
	if _, err := rand.Read(nonceRaw); err != nil {
		return wrapErr(KindAuth, err, "generating nonce")
	}
	nonce := base64.StdEncoding.EncodeToString(nonceRaw)

	clientFirstBare := "n=,r=" + nonce
	err := c.write(protocol.SASLInitialResponse("SCRAM-SHA-256", []byte("n,,"+clientFirstBare)))
	if err != nil {
		return err
	}

	serverFirst, err := c.readSASL(protocol.AuthSASLContinue)
	if err != nil {
		return err
	}
	attrs, err := parseScramAttrs(serverFirst)
	if err != nil {
		return err
	}
	serverNonce := attrs['r']
	if !strings.HasPrefix(serverNonce, nonce) {
		return newErr(KindAuth, "server nonce does not extend the client nonce")
	}
	salt, err := base64.StdEncoding.DecodeString(attrs['s'])
	if err != nil {
		return newErr(KindAuth, "malformed salt in server-first message")
	}
	iterations, err := strconv.Atoi(attrs['i'])
	if err != nil || iterations < 1 {
		return newErr(KindAuth, "malformed iteration count in server-first message")
	}

	saltedPassword := pbkdf2.Key([]byte(c.cfg.Password), salt, iterations, sha256.Size, sha256.New)
	clientKey := hmacSum(saltedPassword, "Client Key")
	storedKey := sha256.Sum256(clientKey)

	clientFinalBare := "c=biws,r=" + serverNonce
	authMessage := clientFirstBare + "," + string(serverFirst) + "," + clientFinalBare

	clientSignature := hmacSum(storedKey[:], authMessage)
	proof := make([]byte, len(clientKey))
	for i := range proof {
		proof[i] = clientKey[i] ^ clientSignature[i]
	}

	final := clientFinalBare + ",p=" + base64.StdEncoding.EncodeToString(proof)
	if err := c.write(protocol.SASLResponse([]byte(final))); err != nil {
		return err
	}

	serverFinal, err := c.readSASL(protocol.AuthSASLFinal)
	if err != nil {
		return err
	}
	finalAttrs, err := parseScramAttrs(serverFinal)
	if err != nil {
		return err
	}
	if e, ok := finalAttrs['e']; ok {
		return newErr(KindAuth, "server rejected SCRAM exchange: %s", e)
	}
	serverSignature, err := base64.StdEncoding.DecodeString(finalAttrs['v'])
	if err != nil {
		return newErr(KindAuth, "malformed server signature")
	}
	serverKey := hmacSum(saltedPassword, "Server Key")
	if !hmac.Equal(serverSignature, hmacSum(serverKey, authMessage)) {
		return newErr(KindAuth, "server signature verification failed; the backend does not know the password")
	}
	return nil
}

// readSASL reads the next message of the SASL exchange, expecting an
// Authentication message with the given method code.
func (c *Conn) readSASL(expect uint32) ([]byte, error) {
	m, err := c.read()
	if err != nil {
		return nil, err
	}
	if m.IsError() {
		return nil, wrapErr(KindAuth, c.dbError(m), "authentication failed for user %q", c.cfg.User)
	}
	code, err := m.AuthType()
	if err != nil {
		c.fault()
		return nil, wrapErr(KindProtocol, err, "decoding SASL exchange")
	}
	if code != expect {
		c.fault()
		return nil, newErr(KindProtocol, "expected SASL code %d, got %d", expect, code)
	}
	return m.AuthSASLData()
}

func hmacSum(key []byte, message string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(message))
	return h.Sum(nil)
}

// parseScramAttrs splits a SCRAM message of comma-separated attr=value
// pairs into a map keyed by the single-letter attribute names.
func parseScramAttrs(data []byte) (map[byte]string, error) {
	attrs := make(map[byte]string)
	for _, part := range bytes.Split(data, []byte(",")) {
		if len(part) < 2 || part[1] != '=' {
			return nil, newErr(KindAuth, "malformed SCRAM attribute %q", part)
		}
		attrs[part[0]] = string(part[2:])
	}
	return attrs, nil
}

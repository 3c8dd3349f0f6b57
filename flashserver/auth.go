package flashserver

import (
	"crypto"
	"crypto/hmac"
	_ "crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Access is the set of endpoints a credential may use.
type Access int

const (
	// AccessRead allows GET requests only.
	AccessRead Access = iota
	// AccessWrite allows every endpoint, including write, erase and status
	// changes.
	AccessWrite
)

// AnyChip scopes a credential to every server sharing the key.
const AnyChip = "*"

func (a Access) String() string {
	if a == AccessWrite {
		return "rw"
	}
	return "ro"
}

func parseAccess(s string) (Access, bool) {
	switch s {
	case "ro":
		return AccessRead, true
	case "rw":
		return AccessWrite, true
	}
	return AccessRead, false
}

func authSign(authKey string, user string) []byte {
	h := hmac.New(crypto.SHA256.New, []byte(authKey))
	h.Write([]byte(user))
	return h.Sum(nil)
}

// AuthCalculate derives basic auth credentials from the API key. The user
// name is "expiry$chip$access" and the password its HMAC, so a credential
// only opens servers whose chip matches, or all of them for AnyChip.
func AuthCalculate(authKey string, chip string, access Access, expiry time.Time) (string, string) {
	if chip == "" {
		chip = AnyChip
	}
	user := strconv.FormatInt(expiry.Unix(), 10) + "$" + strings.ToUpper(chip) + "$" + access.String()
	return user, hex.EncodeToString(authSign(authKey, user))
}

// AuthHandler only lets requests through that carry unexpired credentials
// created by AuthCalculate with the same key and for this chip. Read only
// credentials are limited to GET. An empty key disables authentication.
func AuthHandler(next http.Handler, authKey string, chip string) http.Handler {
	if len(authKey) == 0 {
		return next
	}

	failed := func(rw http.ResponseWriter, status int) {
		if status == http.StatusUnauthorized {
			rw.Header().Set("WWW-Authenticate", "Basic")
		}
		rw.WriteHeader(status)
	}

	return http.HandlerFunc(func(rw http.ResponseWriter, rq *http.Request) {
		user, pwd, ok := rq.BasicAuth()
		if !ok {
			failed(rw, http.StatusUnauthorized)
			return
		}

		pwdDec, err := hex.DecodeString(pwd)
		if err != nil || subtle.ConstantTimeCompare(pwdDec, authSign(authKey, user)) != 1 {
			failed(rw, http.StatusUnauthorized)
			return
		}

		parts := strings.Split(user, "$")
		if len(parts) != 3 {
			failed(rw, http.StatusUnauthorized)
			return
		}

		expiry, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil || time.Now().Unix() > expiry {
			failed(rw, http.StatusUnauthorized)
			return
		}

		if parts[1] != AnyChip && !strings.EqualFold(parts[1], chip) {
			failed(rw, http.StatusForbidden)
			return
		}

		access, ok := parseAccess(parts[2])
		if !ok {
			failed(rw, http.StatusUnauthorized)
			return
		}
		if access == AccessRead && rq.Method != http.MethodGet {
			failed(rw, http.StatusForbidden)
			return
		}

		next.ServeHTTP(rw, rq)
	})
}

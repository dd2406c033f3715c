// Command token mints an access token for a user or an administrator.  The
// service does not issue tokens itself; operators use this tool, or an
// external identity provider signing with the same JWT_SECRET.
//
//	go run ./cmd/token -user u-42 -role ADMIN -ttl 2h
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/qurbani/slot-allocation/internal/utils"
)

type tokenConfig struct {
	JWTSecret    string `env:"JWT_SECRET,required,notEmpty"`
	AccessTTLMin int    `env:"ACCESS_TOKEN_TTL_MIN" envDefault:"60"`
}

func main() {
	_ = godotenv.Load()
	var cfg tokenConfig
	if err := env.Parse(&cfg); err != nil {
		fail(err)
	}

	user := flag.String("user", "", "user id placed in the sub claim")
	role := flag.String("role", utils.RoleUser, "USER or ADMIN")
	ttl := flag.Duration("ttl", time.Duration(cfg.AccessTTLMin)*time.Minute, "token lifetime")
	flag.Parse()

	if strings.TrimSpace(*user) == "" {
		fail(fmt.Errorf("-user is required"))
	}
	r := strings.ToUpper(*role)
	if r != utils.RoleUser && r != utils.RoleAdmin {
		fail(fmt.Errorf("unknown role %q", *role))
	}

	tok, err := utils.NewAccessToken(cfg.JWTSecret, *user, r, *ttl)
	if err != nil {
		fail(err)
	}
	fmt.Println(tok.Token)
	fmt.Fprintf(os.Stderr, "expires %s\n", tok.Exp.Format(time.RFC3339))
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "token:", err)
	os.Exit(1)
}

// Command operator-token mints a bearer token for the admin sessions view,
// signed with the same key the server derives from its environment.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"submit/internal/operator"
	"submit/internal/platform/config"
)

func main() {
	log.SetFlags(0)
	email := flag.String("email", "", "operator email")
	role := flag.String("role", string(operator.RoleAdmin), "admin, superadmin or ysws_author")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	flag.Parse()

	if *email == "" {
		log.Fatal("missing -email")
	}
	r := operator.Role(*role)
	if !r.Valid() {
		log.Fatalf("unknown role %q", *role)
	}

	cfg := config.FromEnv()
	tok, err := operator.NewTokenService(cfg.OperatorJWTKey, cfg.OperatorIssuer).Issue(*email, r, *ttl)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	fmt.Println(tok)
}

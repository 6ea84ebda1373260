// Command devtoken prints an access token accepted by the API, for local
// runs where no identity service issues them.
//
//	devtoken -user 100 -role CLIENT -ttl 2h
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/consult-booking/internal/model"
	"github.com/iliyamo/consult-booking/internal/utils"
)

func main() {
	_ = godotenv.Load()
	userID := flag.Uint64("user", 0, "user id carried in the sub claim")
	roleName := flag.String("role", string(model.RoleClient), "CLIENT or CONSULTANT")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "signing secret (default $JWT_SECRET)")
	flag.Parse()

	role, ok := model.ParseRole(*roleName)
	if !ok || *userID == 0 || *secret == "" {
		flag.Usage()
		os.Exit(2)
	}
	tok, err := utils.NewAccessToken(*secret, *userID, role, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "devtoken:", err)
		os.Exit(1)
	}
	fmt.Println(tok.Token)
}

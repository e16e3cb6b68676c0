// Command token mints a bearer token for operators and scanner devices.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/xelth-com/parcelseal/internal/models"
	"github.com/xelth-com/parcelseal/internal/utils"
)

func main() {
	_ = godotenv.Load()

	subject := flag.StringP("subject", "s", "", "subject id (required)")
	role := flag.StringP("role", "r", string(models.RoleDeliveryAgent), "admin, dispatcher, delivery_agent or user")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	secret := flag.String("secret", "", "signing secret (defaults to JWT_SECRET)")
	flag.Parse()

	if *secret == "" {
		*secret = os.Getenv("JWT_SECRET")
	}
	if *secret == "" {
		log.Fatal("❌ JWT_SECRET is not set and --secret was not given")
	}

	r := models.Role(*role)
	switch r {
	case models.RoleAdmin, models.RoleDispatcher, models.RoleDeliveryAgent, models.RoleUser:
	default:
		log.Fatalf("❌ Unknown role %q", *role)
	}

	tok, err := utils.GenerateAccessToken(models.Identity{SubjectID: *subject, Role: r}, *secret, *ttl)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	fmt.Println(tok)
}

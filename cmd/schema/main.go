// Command schema prints the gymlog Postgres schema, or applies it with -apply.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/2beens/gymlog/internal/backend/psql"
	"github.com/2beens/gymlog/internal/db"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

func main() {
	apply := flag.Bool("apply", false, "apply the schema instead of printing it")
	host := flag.String("host", "localhost", "postgres host")
	port := flag.String("port", "5432", "postgres port")
	dbName := flag.String("db", "gymlog", "postgres database name")
	user := flag.String("user", "postgres", "postgres user")
	flag.Parse()

	if !*apply {
		fmt.Print(psql.Schema)
		return
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("load .env: %s", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
		DBHost:     *host,
		DBPort:     *port,
		DBName:     *dbName,
		DBUser:     *user,
		DBPassword: os.Getenv("GYMLOG_POSTGRES_PASS"),
	})
	if err != nil {
		log.Fatalf("new db pool: %s", err)
	}
	defer pool.Close()

	if err := psql.ApplySchema(ctx, pool); err != nil {
		log.Fatalf("apply schema: %s", err)
	}
	log.Infof("schema applied to %s/%s", *host, *dbName)
}

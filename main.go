package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/moapub/moa/activitypub"
	"github.com/moapub/moa/db"
	"github.com/moapub/moa/domain"
	"github.com/moapub/moa/ui"
	"github.com/moapub/moa/util"
	"github.com/moapub/moa/web"
)

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	store, err := db.Open(util.ResolveFilePath(util.Name + ".db"))
	if err != nil {
		log.Fatalln(err)
	}
	defer store.Close()

	log.Println("Running database migrations...")
	if err := store.Migrate(); err != nil {
		log.Fatalln(err)
	}
	log.Println("Database migrations complete")

	actor := bootstrapActor(store, conf)

	key, err := activitypub.ParsePrivateKey(actor.PrivateKeyPem)
	if err != nil {
		log.Fatalln(err)
	}

	client := activitypub.NewClient(key, conf.BaseIRI()+"#main-key")
	ttl := time.Duration(conf.Conf.ActorCacheTtlHours) * time.Hour
	resolver := activitypub.NewResolver(store, client, ttl)
	verifier := activitypub.NewVerifier(resolver, client)
	deliverer := activitypub.NewQueueDeliverer(store)
	engine := activitypub.NewEngine(store, resolver, deliverer, nil, conf.BaseIRI())

	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := ui.RunConsole(conf, store, engine, actor); err != nil {
			log.Fatalln(err)
		}
		return
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	if conf.Conf.WithDelivery {
		activitypub.StartDeliveryWorker(store, client)
	}

	server := web.NewServer(conf, store, engine, resolver, verifier, actor)
	startServing(server, conf)
}

// bootstrapActor loads the single local actor, generating the account
// and its keypair on first boot.
func bootstrapActor(store *db.DB, conf *util.AppConfig) *domain.LocalActor {
	err, actor := store.ReadLocalActor()
	if err == nil {
		return actor
	}
	if err != sql.ErrNoRows {
		log.Fatalln(err)
	}

	log.Printf("Main: no local actor yet, generating keypair for %s", conf.Conf.Username)
	keys := util.GeneratePemKeypair()
	actor = &domain.LocalActor{
		Id:            uuid.New(),
		Username:      conf.Conf.Username,
		PublicKeyPem:  keys.Public,
		PrivateKeyPem: keys.Private,
	}
	if err := store.CreateLocalActor(actor); err != nil {
		log.Fatalln(err)
	}
	return actor
}

func startServing(server *web.Server, conf *util.AppConfig) {
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", conf.Conf.Host, conf.Conf.HttpPort),
		Handler: server.Router(),
	}

	log.Printf("Starting %s on %s:%d, serving %s", util.GetNameAndVersion(), conf.Conf.Host, conf.Conf.HttpPort, conf.BaseIRI())
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalln(err)
		}
	}()

	<-done
	log.Println("Stopping HTTP server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer func() { cancel() }()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalln(err)
	}
}

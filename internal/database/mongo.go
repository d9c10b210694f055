package database

import (
	"context"
	"log"
	"time"

	"github.com/spf13/viper"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// InitMongo connects to the read-model document store. The read model is an
// eventually-consistent projection of the ledger, so like Redis its absence
// is tolerated: callers receive nil and fall back to defaults.
func InitMongo() *mongo.Database {
	viper.SetDefault("mongo.uri", "mongodb://localhost:27017")
	viper.SetDefault("mongo.database", "atlas_core")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(viper.GetString("mongo.uri")))
	if err != nil {
		log.Printf("Mongo connection failed, continuing without read model: %v", err)
		return nil
	}

	if err := client.Ping(ctx, nil); err != nil {
		log.Printf("Mongo ping failed, continuing without read model: %v", err)
		return nil
	}

	log.Println("Mongo connection established")
	return client.Database(viper.GetString("mongo.database"))
}

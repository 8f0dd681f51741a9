package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"relay-service/internal/bus"
	"relay-service/internal/config"
	"relay-service/internal/database"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Real-time relay",
		Long:  "Relays backend events from the pub/sub bus to WebSocket clients.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
		SilenceUsage: true,
	}
	rootCmd.Flags().StringP("port", "p", "3001", "port to listen on")
	rootCmd.Flags().StringP("host", "a", "0.0.0.0", "address to listen on")
	rootCmd.Flags().String("log-level", "info", "log level: debug, info, warn or error")
	viper.BindPFlag("PORT", rootCmd.Flags().Lookup("port"))
	viper.BindPFlag("HOST", rootCmd.Flags().Lookup("host"))
	viper.BindPFlag("LOG_LEVEL", rootCmd.Flags().Lookup("log-level"))

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Relay version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("relay %s\n", version)
		},
	}

	publishCmd := &cobra.Command{
		Use:   "publish <topic> <payload>",
		Short: "Publish one event on the configured bus",
		Long:  "Publish one event on the configured bus, e.g. to check that a running relay forwards it.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return publish(cmd.Context(), args[0], args[1])
		},
	}

	rootCmd.AddCommand(versionCmd, publishCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func publish(ctx context.Context, topic, payload string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if cfg.Bus.Driver == config.BusDriverKafka {
		publisher, err := bus.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topics[0])
		if err != nil {
			return err
		}
		defer publisher.Close()

		offset, err := publisher.Publish(ctx, topic, payload)
		if err != nil {
			return err
		}
		fmt.Printf("published %q to kafka topic %s at offset %d\n", topic, cfg.Kafka.Topics[0], offset)
		return nil
	}

	redisClient := database.NewRedisConnection(cfg.Redis)
	defer redisClient.Close()

	receivers, err := bus.NewRedisPublisher(redisClient.GetClient()).Publish(ctx, topic, payload)
	if err != nil {
		return err
	}
	fmt.Printf("published to %q, %d receiver(s)\n", topic, receivers)
	return nil
}

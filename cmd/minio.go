package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"melodex/config"
	"melodex/storage"
)

var (
	minioPrefix string
	minioDelete bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "Inspect the artifact bucket",
	Long:  `Lists stored artifacts by prefix, or deletes everything under a prefix.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		fmt.Printf("MinIO: %s, bucket %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		store, err := storage.NewStore(cfg)
		if err != nil {
			log.Fatalf("Failed to connect to MinIO: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		objects, err := store.List(ctx, minioPrefix)
		if err != nil {
			log.Fatalf("Failed to list objects: %v", err)
		}

		if minioDelete {
			if minioPrefix == "" {
				log.Fatal("Refusing to delete without a prefix")
			}
			for _, object := range objects {
				if err := store.Remove(ctx, object.Key); err != nil {
					log.Fatalf("Failed to remove %s: %v", object.Key, err)
				}
				fmt.Printf("removed %s\n", object.Key)
			}
			fmt.Printf("Removed %d objects under %q.\n", len(objects), minioPrefix)
			return
		}

		var total int64
		for _, object := range objects {
			fmt.Printf("%12d  %s  %s\n", object.Size, object.LastModified.Format(time.RFC3339), object.Key)
			total += object.Size
		}
		fmt.Printf("%d objects, %d bytes total.\n", len(objects), total)
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "filter objects by prefix")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "delete all objects under the prefix")

	minioCmd.Example = `  # list all artifacts
  melodex minio

  # list one quality tier
  melodex minio -p "artifacts/high/"

  # delete everything under a prefix
  melodex minio -d -p "artifacts/standard/"`
}

package s3

import (
	"bytes"
	"context"
	"io"

	"github.com/charmbracelet/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
)

/*
Conn wraps a minio client scoped to one bucket.  It only exposes the small
surface the task store needs: get, put and prefix listing.
*/
type Conn struct {
	client *minio.Client
	bucket string
}

// Config carries the connection settings for an S3-compatible endpoint.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// ConfigFromViper reads the s3 section of the active configuration.
func ConfigFromViper() Config {
	v := viper.GetViper()

	return Config{
		Endpoint:  v.GetString("s3.endpoint"),
		AccessKey: v.GetString("s3.access_key"),
		SecretKey: v.GetString("s3.secret_key"),
		UseSSL:    v.GetBool("s3.use_ssl"),
		Bucket:    v.GetString("s3.bucket"),
	}
}

/*
NewConn dials the endpoint and makes sure the bucket exists.
*/
func NewConn(ctx context.Context, cfg Config) (*Conn, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})

	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, err
	}

	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
		log.Info("created task bucket", "bucket", cfg.Bucket)
	}

	return &Conn{client: client, bucket: cfg.Bucket}, nil
}

func (conn *Conn) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := conn.client.GetObject(ctx, conn.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	return io.ReadAll(obj)
}

func (conn *Conn) Put(ctx context.Context, key string, data []byte) error {
	_, err := conn.client.PutObject(
		ctx, conn.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"},
	)

	return err
}

/*
ListKeys returns every object key under the given prefix.
*/
func (conn *Conn) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	for obj := range conn.client.ListObjects(ctx, conn.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		keys = append(keys, obj.Key)
	}

	return keys, nil
}

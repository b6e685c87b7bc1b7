package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/interflow/internal/runtime/config"
	"github.com/drblury/interflow/internal/testutil"
	"github.com/drblury/interflow/transport"
)

func overrideFactories(t *testing.T) {
	t.Helper()
	loader, resolver, pub, sub := DefaultConfigLoader, TopicResolverFactory, PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		DefaultConfigLoader = loader
		TopicResolverFactory = resolver
		PublisherFactory = pub
		SubscriberFactory = sub
	})

	DefaultConfigLoader = func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{Region: "us-east-1"}, nil
	}
	TopicResolverFactory = func(accountID, region string) (*sns.GenerateArnTopicResolver, error) {
		return &sns.GenerateArnTopicResolver{}, nil
	}
	PublisherFactory = func(sns.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
		return testutil.NewPublisher(), nil
	}
	SubscriberFactory = func(sns.SubscriberConfig, sqs.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
		return testutil.NewSubscriber(), nil
	}
}

func TestRegistered(t *testing.T) {
	assert.True(t, transport.DefaultRegistry.Has(TransportName))
	assert.Equal(t, transport.AWSCapabilities, transport.GetCapabilities(TransportName))
}

func TestBuild(t *testing.T) {
	t.Run("region and account flow into the resolver", func(t *testing.T) {
		overrideFactories(t)
		var gotAccount, gotRegion string
		TopicResolverFactory = func(accountID, region string) (*sns.GenerateArnTopicResolver, error) {
			gotAccount, gotRegion = accountID, region
			return &sns.GenerateArnTopicResolver{}, nil
		}
		pub := testutil.NewPublisher()
		PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			assert.Empty(t, cfg.OptFns)
			return pub, nil
		}

		tr, err := Build(context.Background(), &config.TransportSettings{
			AWSRegion:    "eu-central-1",
			AWSAccountID: "123456789012",
		}, watermill.NopLogger{})

		require.NoError(t, err)
		assert.Same(t, pub, tr.Publisher)
		assert.Equal(t, "123456789012", gotAccount)
		assert.Equal(t, "eu-central-1", gotRegion)
	})

	t.Run("custom endpoint sets endpoint options", func(t *testing.T) {
		overrideFactories(t)
		SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			assert.Len(t, cfg.OptFns, 1)
			assert.Len(t, sqsCfg.OptFns, 1)
			return testutil.NewSubscriber(), nil
		}

		_, err := Build(context.Background(), &config.TransportSettings{
			AWSRegion:   "us-east-1",
			AWSEndpoint: "http://localhost:4566",
		}, watermill.NopLogger{})
		require.NoError(t, err)
	})

	t.Run("invalid endpoint", func(t *testing.T) {
		overrideFactories(t)
		_, err := Build(context.Background(), &config.TransportSettings{AWSEndpoint: "http://[::1"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "failed to parse AWS endpoint")
	})

	t.Run("config loader failure", func(t *testing.T) {
		overrideFactories(t)
		DefaultConfigLoader = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
			return aws.Config{}, errors.New("config error")
		}

		_, err := Build(context.Background(), &config.TransportSettings{AWSRegion: "us-east-1"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "config error")
	})

	t.Run("publisher failure", func(t *testing.T) {
		overrideFactories(t)
		PublisherFactory = func(sns.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}

		_, err := Build(context.Background(), &config.TransportSettings{AWSRegion: "us-east-1"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "publisher error")
	})

	t.Run("subscriber failure closes publisher", func(t *testing.T) {
		overrideFactories(t)
		pub := testutil.NewPublisher()
		PublisherFactory = func(sns.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
			return pub, nil
		}
		SubscriberFactory = func(sns.SubscriberConfig, sqs.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("subscriber error")
		}

		_, err := Build(context.Background(), &config.TransportSettings{AWSRegion: "us-east-1"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "subscriber error")
		assert.True(t, pub.Closed())
	})
}

func TestResolveAccountID(t *testing.T) {
	log := watermill.NopLogger{}

	assert.Equal(t, "123456789012", resolveAccountID(&config.TransportSettings{AWSAccountID: "'123456789012'"}, false, log))
	assert.Equal(t, "", resolveAccountID(&config.TransportSettings{}, false, log))
	assert.Equal(t, localstackAccountID, resolveAccountID(&config.TransportSettings{}, true, log))
	assert.Equal(t, localstackAccountID, resolveAccountID(&config.TransportSettings{AWSAccountID: "42"}, true, log))
	assert.Equal(t, "123456789012", resolveAccountID(&config.TransportSettings{AWSAccountID: "123456789012"}, true, log))
}

func TestStaticCredentials(t *testing.T) {
	creds, err := staticCredentials("id", "secret").Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "id", creds.AccessKeyID)
	assert.Equal(t, "secret", creds.SecretAccessKey)
}

package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

const defaultSESRegion = "us-east-1"

type SESConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	From            string
}

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESNotifier sends notifications through Amazon SES v2.
type SESNotifier struct {
	client sesAPI
	from   string
}

// NewSESNotifier uses static credentials when both keys are set, otherwise the default AWS chain.
func NewSESNotifier(ctx context.Context, cfg SESConfig) (*SESNotifier, error) {
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("ses sender address is required")
	}
	region := cfg.Region
	if region == "" {
		region = defaultSESRegion
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return newSESNotifierWithClient(sesv2.NewFromConfig(awsCfg), cfg.From)
}

func newSESNotifierWithClient(client sesAPI, from string) (*SESNotifier, error) {
	if client == nil {
		return nil, fmt.Errorf("ses client is required")
	}
	return &SESNotifier{client: client, from: from}, nil
}

func (n *SESNotifier) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.from),
		Destination: &types.Destination{
			ToAddresses: msg.To,
			CcAddresses: msg.Cc,
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
	}

	if _, err := n.client.SendEmail(ctx, input); err != nil {
		return sesSendError(err)
	}
	return nil
}

func sesSendError(err error) error {
	sendErr := &SendError{Transport: "ses", Message: "send failed", Cause: err}

	var throttled *types.TooManyRequestsException
	var limited *types.LimitExceededException
	var respErr *awshttp.ResponseError
	switch {
	case errors.As(err, &throttled), errors.As(err, &limited):
		sendErr.StatusCode = http.StatusTooManyRequests
		sendErr.Transient = true
	case errors.As(err, &respErr):
		sendErr.StatusCode = respErr.HTTPStatusCode()
		sendErr.Transient = isTransientHTTPStatus(sendErr.StatusCode)
	default:
		sendErr.Transient = IsTransient(err)
	}

	return sendErr
}

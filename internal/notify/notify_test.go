package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "webkart/pkg/domain"
)

type fakeSNS struct {
	input *sns.PublishInput
	err   error
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSNSNotifier(t *testing.T) {
	phone := id.PhoneNumber("+919876543210")

	t.Run("publishes a transactional sms", func(t *testing.T) {
		client := &fakeSNS{}
		n := NewSNS(client, "WEBKRT")

		require.NoError(t, n.Send(context.Background(), phone, "code 123456"))
		require.NotNil(t, client.input)
		assert.Equal(t, "+919876543210", aws.ToString(client.input.PhoneNumber))
		assert.Equal(t, "code 123456", aws.ToString(client.input.Message))
		assert.Equal(t, "Transactional", aws.ToString(client.input.MessageAttributes["AWS.SNS.SMS.SMSType"].StringValue))
		assert.Equal(t, "WEBKRT", aws.ToString(client.input.MessageAttributes["AWS.SNS.SMS.SenderID"].StringValue))
	})

	t.Run("sender id is optional", func(t *testing.T) {
		client := &fakeSNS{}
		require.NoError(t, NewSNS(client, "").Send(context.Background(), phone, "hi"))
		_, ok := client.input.MessageAttributes["AWS.SNS.SMS.SenderID"]
		assert.False(t, ok)
	})

	t.Run("errors mask the phone", func(t *testing.T) {
		client := &fakeSNS{err: errors.New("throttled")}
		err := NewSNS(client, "").Send(context.Background(), phone, "hi")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "3210")
		assert.NotContains(t, err.Error(), "9876543210")
	})
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLog(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, n.Send(context.Background(), "+919876543210", "code 123456"))
	assert.Contains(t, buf.String(), "code 123456")
	assert.NotContains(t, buf.String(), "9876543210")
}

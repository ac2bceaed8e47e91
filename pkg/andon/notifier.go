/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package andon

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	kherrors "github.com/seanchatmangpt/knhk-sub006/internal/errors"
)

// SlackNotifier posts a message to a fixed channel on every Red transition.
type SlackNotifier struct {
	client  *slack.Client
	channel string
}

// NewSlackNotifier constructs a SlackNotifier from a bot token and target
// channel ID.
func NewSlackNotifier(token, channel string) *SlackNotifier {
	return &SlackNotifier{client: slack.New(token), channel: channel}
}

// NotifyRed implements Notifier.
func (n *SlackNotifier) NotifyRed(ctx context.Context, reason string) error {
	text := fmt.Sprintf(":red_circle: andon tripped Red — last fault: %s", reason)
	_, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return kherrors.Wrap(err, kherrors.ErrorTypeRuntime, "andon slack notification failed")
	}
	return nil
}

// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package hook runs an operator-supplied shell hook for a node coming
online and tears down everything it created when the node goes away.

# Lifecycle

A State is created per node. Activate materializes the node's private
key and the hook script as owner-read-only temporary files, launches the
script with the node's facts in its environment, and streams the merged
stdout/stderr into a log sink without waiting for the hook to finish:

	state := hook.NewState("agent-7", hook.Options{})
	err := state.Activate(ctx, hook.ActivateRequest{
	    Facts:  facts,
	    Script: script,
	    Sink:   logFile,
	})

Close sends SIGTERM to the hook, waits a bounded time for it to exit,
then deletes every temporary file. Every failure along the way is kept
and returned as one *errors.CleanupError:

	if err := state.Close(ctx); err != nil {
	    // err lists every signal, wait and delete failure
	}

A failed Activate has already called Close before returning. After Close
the State refuses further activations.

# Environment

The hook sees the node's base environment overlaid with ssh_identity,
ssh_port, ssh_user, ssh_ip, node_name, node_labels and ec2_image.
*/
package hook

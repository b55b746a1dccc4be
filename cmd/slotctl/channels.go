package main

import (
	"fmt"

	"voltask/internal/client/initdata"
	"voltask/internal/client/ipc"
	"voltask/internal/client/slot"
	"voltask/pkg/errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var channelsCmd = &cobra.Command{
	Use:   "channels <slot>",
	Short: "Show pending messages on a slot's shared-memory channels",
	Long: `Attach to the segment of a slot and print every channel. Messages are
peeked, not consumed, so the worker and the client still see them.`,
	Args: cobra.ExactArgs(1),
	RunE: runChannels,
}

var sendCmd = &cobra.Command{
	Use:   "send <slot> <channel> <message>",
	Short: "Write a message into one channel of a slot's segment",
	Long: `Write a raw message into a channel, for example
  slotctl send 0 process_control_request "<suspend/>"
Only one side may write a channel: client channels are refused while a
client runs on the slots directory, worker channels while a worker holds
the slot. The write fails if the channel still holds an unread message
unless --overwrite is given.`,
	Args: cobra.ExactArgs(3),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().Bool("overwrite", false, "Replace an unread message")
}

// attach maps the segment belonging to the slot in arg.
func attach(arg string) (*ipc.SharedMemorySegment, error) {
	dir, err := slotDir(arg)
	if err != nil {
		return nil, err
	}
	path := ipc.SegmentPath(viper.GetString("client.shmDir"), dir, viper.GetString("client.shmSalt"))
	if data, err := initdata.Read(dir); err == nil && data.ShmKey != "" {
		path = data.ShmKey
	}
	seg, err := ipc.AttachSegment(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.SegmentNotAttached, "attach segment for slot %s", arg)
	}
	return seg, nil
}

func runChannels(cmd *cobra.Command, args []string) error {
	seg, err := attach(args[0])
	if err != nil {
		return err
	}
	defer seg.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Segment %s\n", seg.Path())
	for id := ipc.ChannelID(0); id < ipc.NumChannels; id++ {
		msg, ok := seg.Channel(id).Peek()
		if !ok {
			fmt.Fprintf(out, "  %-24s (empty)\n", id)
			continue
		}
		fmt.Fprintf(out, "  %-24s %s\n", id, msg)
	}
	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	id, err := ipc.ParseChannelID(args[1])
	if err != nil {
		return err
	}
	if err := checkWriter(args[0], id); err != nil {
		return err
	}
	seg, err := attach(args[0])
	if err != nil {
		return err
	}
	defer seg.Close()

	overwrite, _ := cmd.Flags().GetBool("overwrite")
	ch := seg.Channel(id)
	if overwrite {
		err = ch.SendOverwrite(args[2])
	} else {
		err = ch.Send(args[2])
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent to %s\n", id)
	return nil
}

// checkWriter refuses to write a channel whose owning side is alive.
func checkWriter(arg string, id ipc.ChannelID) error {
	if id.FromClient() {
		if slot.ClientLocked(viper.GetString("client.slotsDir")) {
			return errors.Newf(errors.SlotLocked, "%s is written by the running client", id)
		}
		return nil
	}
	dir, err := slotDir(arg)
	if err != nil {
		return err
	}
	if slot.Locked(dir) {
		return errors.Newf(errors.SlotLocked, "%s is written by the worker in slot %s", id, arg)
	}
	return nil
}

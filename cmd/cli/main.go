package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/erh/vmodutils"
	"go.viam.com/rdk/logging"
	genericservice "go.viam.com/rdk/services/generic"
)

func main() {
	err := realMain()
	if err != nil {
		panic(err)
	}
}

func realMain() error {
	sessionName := flag.String("session", "ar-session", "name of the tracking session service on the machine")
	command := flag.String("cmd", "status", "command to send: status|markers|events|rigs|projection|start|stop")
	watch := flag.Bool("watch", false, "keep sending the command once a second")
	flag.Parse()

	ctx := context.Background()
	logger := logging.NewLogger("cli")

	machine, err := vmodutils.ConnectToMachineFromEnv(ctx, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to machine: %w", err)
	}
	defer machine.Close(ctx)

	session, err := machine.ResourceByName(genericservice.Named(*sessionName))
	if err != nil {
		return fmt.Errorf("failed to find session %q: %w", *sessionName, err)
	}

	if _, err := session.DoCommand(ctx, map[string]interface{}{"command": "wait-ready"}); err != nil {
		logger.Warnf("Session not ready yet: %v", err)
	}

	for {
		resp, err := session.DoCommand(ctx, map[string]interface{}{"command": *command})
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		if !*watch {
			return nil
		}
		time.Sleep(time.Second)
	}
}

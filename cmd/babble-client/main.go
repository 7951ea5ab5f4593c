// babble-client is a test driver: it logs in, optionally follows another
// client and publishes messages, then fetches whatever the flags ask for.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Blackjack1937/Babble/pkg/client"
)

func main() {
	var (
		host     = flag.String("host", "127.0.0.1", "server host")
		port     = flag.Int("p", 5656, "server port")
		name     = flag.String("name", "", "client id to register (required)")
		follow   = flag.String("follow", "", "client id to follow after login")
		publish  = flag.Int("publish", 0, "number of messages to publish")
		msg      = flag.String("msg", "hello from babble-client", "message to publish")
		stream   = flag.Bool("stream", false, "publish/follow in streaming mode (no acks)")
		timeline = flag.Bool("timeline", false, "fetch the timeline before exiting")
		fcount   = flag.Bool("fcount", false, "fetch the follower count before exiting")
	)
	flag.Parse()

	if *name == "" {
		flag.Usage()
		os.Exit(1)
	}

	c, err := client.Dial(fmt.Sprintf("%s:%d", *host, *port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "babble-client: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	key, err := c.Login(*name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "babble-client: login: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("logged in as %s with key %d\n", *name, key)

	if *follow != "" {
		if err := c.Follow(*follow, *stream); err != nil {
			fmt.Fprintf(os.Stderr, "babble-client: follow: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("following %s\n", *follow)
	}

	for i := 0; i < *publish; i++ {
		if err := c.Publish(fmt.Sprintf("%s #%d", *msg, i+1), *stream); err != nil {
			fmt.Fprintf(os.Stderr, "babble-client: publish: %v\n", err)
			os.Exit(1)
		}
	}
	if *publish > 0 {
		fmt.Printf("published %d messages\n", *publish)
	}

	// Streamed commands carry no acks; the rendezvous makes sure the
	// server has drained them before we read any state back.
	if err := c.Rdv(); err != nil {
		fmt.Fprintf(os.Stderr, "babble-client: rdv: %v\n", err)
		os.Exit(1)
	}

	if *fcount {
		n, err := c.FollowCount()
		if err != nil {
			fmt.Fprintf(os.Stderr, "babble-client: follow count: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("followers: %d\n", n)
	}

	if *timeline {
		items, size, err := c.Timeline()
		if err != nil {
			fmt.Fprintf(os.Stderr, "babble-client: timeline: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("timeline (%d items):\n", size)
		for _, item := range items {
			fmt.Println(item)
		}
	}
}

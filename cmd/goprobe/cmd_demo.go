package main

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daimatz/goprobe/internal/sample"
	"github.com/daimatz/goprobe/pkg/ext/calllog"
	"github.com/daimatz/goprobe/pkg/ext/httpsum"
	"github.com/daimatz/goprobe/pkg/ext/stepskip"
	"github.com/daimatz/goprobe/pkg/host"
	"github.com/daimatz/goprobe/pkg/probe"
	"github.com/daimatz/goprobe/pkg/resolve"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Hook the sample world and replay a few calls",
	Long: `Installs the call logger on Game.Player, the HTTP summarizer on
Game.Net.WebRequest and the step skipper on Game.StepTimer, then simulates
a short burst of game activity and prints what the hooks observed.`,
	Args: cobra.NoArgs,
	RunE: runDemo,
}

func runDemo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	w := sample.NewWorld()
	s := probe.New(w, cfg, logger.Named("probe"))
	defer s.Close()

	res, err := s.Resolve(resolve.Target{FullName: "Game.Player"})
	if err != nil {
		return err
	}
	calls := calllog.New(s, logger.Named("calls"), calllog.Options{ShowReturn: true, ShowReceiver: true})
	if _, err := calls.Attach(ctx, s.Methods(res.Class, resolve.MethodFilter{})); err != nil {
		return err
	}
	web := httpsum.New(s, httpsum.Options{})
	if _, err := web.Attach(ctx, resolve.Target{FullName: "Game.Net.WebRequest"}); err != nil {
		return err
	}
	skip := stepskip.New(s, stepskip.Options{})
	if _, err := skip.Attach(ctx, resolve.Target{ClassName: "StepTimer"}); err != nil {
		return err
	}

	hero := w.NewPlayer("hero", 100, 1<<40)
	w.AddFriend(hero, w.NewPlayer("sidekick", 80, 12))
	w.Invoke(1, w.Method(w.Player, "Damage"), sample.FromBool(true), hero, 7, w.NewString("goblin"))
	w.Invoke(1, w.Method(w.Player, "Update"), 0, hero, host.Pointer(math.Float32bits(0.016)))
	w.Invoke(1, w.Method(w.Player, "SetMode"), 0, hero, 2)

	send := w.Method(w.Request, "SendWebRequest")
	for _, r := range []struct {
		method, url string
		code        int64
	}{
		{"GET", "https://api.example.com/v1/profile?session=abc", 200},
		{"POST", "https://api.example.com/v1/score", 201},
		{"GET", "https://cdn.assets.example.net/pack.bin", 404},
	} {
		req := w.NewRequest(r.method, r.url)
		code := r.code
		w.InvokeFunc(2, send, func(...host.Pointer) host.Pointer {
			w.Complete(req, code)
			return req
		}, req)
	}

	timer := w.NewTimer(3)
	wait := w.Method(w.Timer, "ShouldWait")
	for i := 0; i < 3; i++ {
		w.Invoke(3, wait, sample.FromBool(true), timer)
	}

	out := cmd.OutOrStdout()
	if text, ok := s.Dump(hero, "Game.Player"); ok {
		fmt.Fprintf(out, "hero: %s\n", text)
	}
	for _, d := range web.Summary() {
		fmt.Fprintf(out, "http %s: %d requests, methods %s, statuses %s\n",
			d.Domain, d.Requests, counts(d.Methods), counts(d.Statuses))
	}
	fmt.Fprintf(out, "steps skipped: %d of %d\n", skip.Skipped(), skip.Calls())

	st := s.Stats().Hooks
	fmt.Fprintf(out, "hooks: %d active, %d installed, %d install failures, %d callback failures, %d invocations\n",
		st.Active, st.Installed, st.InstallFailures, st.CallbackFailures, st.Invocations)
	return nil
}

// counts renders a histogram as "k=v" pairs in key order.
func counts[K comparable](m map[K]int) string {
	parts := make([]string, 0, len(m))
	for k, v := range m {
		parts = append(parts, fmt.Sprintf("%v=%d", k, v))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

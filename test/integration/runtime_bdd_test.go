//go:build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/weblate/distributor/internal/audience"
	"github.com/weblate/distributor/internal/command"
	"github.com/weblate/distributor/internal/config"
	"github.com/weblate/distributor/internal/domain"
	"github.com/weblate/distributor/internal/infra"
	"github.com/weblate/distributor/internal/plugin"
	"github.com/weblate/distributor/internal/scheduler"
	"github.com/weblate/distributor/test/fixtures"
)

// inbox collects messages per audience id.
type inbox struct {
	mu   sync.Mutex
	msgs map[string][]string
}

func (b *inbox) Send(to domain.Audience, _ domain.MessageKind, message string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.msgs == nil {
		b.msgs = make(map[string][]string)
	}
	b.msgs[to.ID] = append(b.msgs[to.ID], message)
	return nil
}

func (b *inbox) For(id string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.msgs[id]...)
}

func runtimeConfig(dataDir string) config.Config {
	return config.Config{
		DataDir:       dataDir,
		Store:         config.StoreYAML,
		TickRate:      0,
		AsyncWorkers:  2,
		ShutdownGrace: 500 * time.Millisecond,
		Namespace:     "distributor",
	}
}

// tickUntil drives the host-side tick loop until cond holds.
func tickUntil(p *plugin.Plugin, cond func() bool) {
	Eventually(func() bool {
		p.Scheduler().Tick()
		return cond()
	}, 2*time.Second, 5*time.Millisecond).Should(BeTrue())
}

var _ = Describe("Distributor runtime", func() {
	var (
		tmpDir  string
		files   *fixtures.PermissionFiles
		sent    *inbox
		runtime *plugin.Plugin
		kicked  []string
	)

	newRuntime := func(store domain.PermissionStore) *plugin.Plugin {
		p, err := plugin.New(runtimeConfig(tmpDir), plugin.Deps{
			Store:  store,
			Sender: sent,
			Logger: zap.NewNop(),
		})
		Expect(err).NotTo(HaveOccurred())
		return p
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "distributor-integration-*")
		Expect(err).NotTo(HaveOccurred())

		files = fixtures.NewPermissionFiles(filepath.Join(tmpDir, "permissions"))
		sent = &inbox{}
		kicked = nil
	})

	AfterEach(func() {
		if runtime != nil {
			_ = runtime.Stop(context.Background())
			runtime = nil
		}
		os.RemoveAll(tmpDir)
	})

	Describe("Start", func() {
		Context("when the groups form a cycle", func() {
			It("should refuse to start", func() {
				Expect(files.CreateCycle()).To(Succeed())
				runtime = newRuntime(infra.NewYAMLPermissionStore(files.Dir))

				err := runtime.Start(context.Background())
				Expect(err).To(HaveOccurred())
				Expect(errors.Is(err, domain.ErrGroupCycle)).To(BeTrue())
				Expect(err.Error()).To(ContainSubstring("a -> b -> c -> a"))
			})
		})
	})

	Describe("Dispatch", func() {
		BeforeEach(func() {
			Expect(files.Create()).To(Succeed())
			runtime = newRuntime(infra.NewYAMLPermissionStore(files.Dir))

			players := audience.NewPlayerLookup(runtime.Directory())
			runtime.Registry().MustRegister(command.Definition{
				Name:       "kick",
				Permission: fixtures.NodeKick,
				Arguments: []command.Argument{
					{Name: "player", Type: audience.NewPlayerArgument(players, false)},
					{Name: "reason", Type: command.String(), Optional: true, Variadic: true},
				},
				Handler: command.HandlerFunc(func(_ context.Context, inv *command.Invocation) error {
					target, _ := command.Get[domain.Audience](inv, "player")
					kicked = append(kicked, target.ID)
					runtime.Disconnect(target.ID)
					return inv.Reply("Kicked " + target.Name)
				}),
			})
			Expect(runtime.Start(context.Background())).To(Succeed())

			for _, a := range []domain.Audience{
				audience.Player("p-mod", "Moderator"),
				audience.Player("p-admin", "[scarlet]Admin"),
				audience.Player("p-guest", "Guest"),
				audience.Player("p-bob", "bob"),
			} {
				Expect(runtime.Connect(a)).To(Succeed())
			}
		})

		Context("when a player without the node kicks", func() {
			It("should be denied without running the handler", func() {
				_, err := runtime.Dispatch(context.Background(), "kick bob", "p-guest")

				var denied *domain.PermissionDeniedError
				Expect(errors.As(err, &denied)).To(BeTrue())
				Expect(denied.Node).To(Equal(fixtures.NodeKick))
				Expect(sent.For("p-guest")).To(ContainElement("You do not have permission to use this command."))

				runtime.Scheduler().Tick()
				Expect(kicked).To(BeEmpty())
			})
		})

		Context("when a moderator kicks", func() {
			It("should run the handler on the next tick", func() {
				task, err := runtime.Dispatch(context.Background(), "kick bob spamming chat", "p-mod")
				Expect(err).NotTo(HaveOccurred())
				Expect(kicked).To(BeEmpty())

				runtime.Scheduler().Tick()
				Eventually(task.Done()).Should(BeClosed())
				Expect(kicked).To(Equal([]string{"p-bob"}))
				Expect(sent.For("p-mod")).To(ContainElement("Kicked bob"))

				_, err = runtime.Dispatch(context.Background(), "help", "p-bob")
				Expect(errors.Is(err, domain.ErrUnknownAudience)).To(BeTrue())
			})
		})

		Context("when the argument does not match an online player", func() {
			It("should report the argument with its usage", func() {
				_, err := runtime.Dispatch(context.Background(), "kick nobody", "p-mod")
				var pf *domain.ParseFailure
				Expect(errors.As(err, &pf)).To(BeTrue())
				Expect(pf.Kind).To(Equal(domain.BadArgument))
				Expect(sent.For("p-mod")).To(ContainElement(
					"Invalid argument #1 (player): expected online player.\nUsage: kick <player> [reason...]"))
			})
		})

		Context("when an admin changes a permission", func() {
			It("should take effect at once and be written to groups.yaml", func() {
				_, err := runtime.Dispatch(context.Background(), "distributor:perm-set default "+fixtures.NodeKick+" true", "p-admin")
				Expect(err).NotTo(HaveOccurred())
				runtime.Scheduler().Tick()

				Expect(runtime.Permissions().Resolver().HasPermission(audience.Player("p-guest", "Guest"), fixtures.NodeKick)).To(BeTrue())
				Eventually(func() (string, error) {
					return files.Read("groups.yaml")
				}, 2*time.Second).Should(MatchRegexp(`(?s)default:.*distributor\.command\.kick: true`))

				reloaded, err := infra.NewYAMLPermissionStore(files.Dir).Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(reloaded.Groups[0].Permissions).To(HaveKeyWithValue(fixtures.NodeKick, domain.Granted))
			})
		})

		Context("when the admin checks a ban override", func() {
			It("should explain the winning holder", func() {
				_, err := runtime.Dispatch(context.Background(), "perm-check admin "+fixtures.NodeBan, "p-admin")
				Expect(err).NotTo(HaveOccurred())
				runtime.Scheduler().Tick()
				Expect(sent.For("p-admin")).To(ContainElement(
					"[scarlet]Admin has distributor.command.ban: true (set by subject:p-admin on distributor.command.ban)"))
			})
		})

		Context("when status is requested", func() {
			It("should reply from a later tick", func() {
				_, err := runtime.Dispatch(context.Background(), "status", domain.ConsoleID)
				Expect(err).NotTo(HaveOccurred())
				tickUntil(runtime, func() bool { return len(sent.For(domain.ConsoleID)) > 0 })
				Expect(sent.For(domain.ConsoleID)[0]).To(ContainSubstring("unavailable"))
			})
		})
	})

	Describe("Scheduler", func() {
		BeforeEach(func() {
			runtime = newRuntime(nil)
			Expect(runtime.Start(context.Background())).To(Succeed())
		})

		It("should keep a failing periodic task on its period", func() {
			var mu sync.Mutex
			var runs []uint64
			task, err := runtime.Scheduler().RunPeriodic("flaky", func(context.Context, *scheduler.Task) error {
				mu.Lock()
				defer mu.Unlock()
				runs = append(runs, runtime.Scheduler().CurrentTick())
				if len(runs) == 3 {
					return fmt.Errorf("third run fails")
				}
				return nil
			}, 20, 20)
			Expect(err).NotTo(HaveOccurred())

			for i := 0; i < 80; i++ {
				runtime.Scheduler().Tick()
			}
			mu.Lock()
			Expect(runs).To(Equal([]uint64{20, 40, 60, 80}))
			mu.Unlock()
			Expect(task.Runs()).To(BeEquivalentTo(4))
		})

		It("should bound shutdown by the grace period", func() {
			release := make(chan struct{})
			defer close(release)
			started := make(chan struct{})
			_, err := runtime.Scheduler().RunAsync("stuck", func(context.Context, *scheduler.Task) error {
				close(started)
				<-release
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
			Eventually(started).Should(BeClosed())

			begin := time.Now()
			err = runtime.Stop(context.Background())
			Expect(errors.Is(err, domain.ErrDrainTimeout)).To(BeTrue())
			Expect(time.Since(begin)).To(BeNumerically("<", 2*time.Second))

			_, err = runtime.Scheduler().RunOnTick("late", func(context.Context, *scheduler.Task) error { return nil })
			Expect(errors.Is(err, domain.ErrSchedulerShutdown)).To(BeTrue())
		})
	})

	Describe("Encrypted store", func() {
		It("should survive a restart", func() {
			key, err := infra.LoadOrCreateKey(infra.NewFileKeyProvider(tmpDir))
			Expect(err).NotTo(HaveOccurred())
			store, err := infra.NewEncryptedPermissionStore(tmpDir, key)
			Expect(err).NotTo(HaveOccurred())

			Expect(files.Create()).To(Succeed())
			table, err := infra.NewYAMLPermissionStore(files.Dir).Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(store.Save(table)).To(Succeed())
			Expect(store.Close()).To(Succeed())

			key, err = infra.LoadOrCreateKey(infra.NewFileKeyProvider(tmpDir))
			Expect(err).NotTo(HaveOccurred())
			reopened, err := infra.NewEncryptedPermissionStore(tmpDir, key)
			Expect(err).NotTo(HaveOccurred())
			defer reopened.Close()

			runtime = newRuntime(reopened)
			Expect(runtime.Start(context.Background())).To(Succeed())
			resolver := runtime.Permissions().Resolver()
			Expect(resolver.HasPermission(audience.Player("p-mod", "m"), fixtures.NodeKick)).To(BeTrue())
			Expect(resolver.HasPermission(audience.Player("p-mod", "m"), fixtures.NodeBan)).To(BeFalse())
			Expect(resolver.HasPermission(audience.Player("p-admin", "a"), fixtures.NodeBan)).To(BeTrue())
		})
	})
})

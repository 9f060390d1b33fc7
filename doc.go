/*
Package reflux provides a reactive state runtime: observable properties with
validation, a priority-ordered event bus, persistence of selected properties
to a durable store, and a component pipeline that wires tagged struct fields,
handlers and UI bindings into that runtime.

reflux is designed to be embedded in a long-running interactive host that
drives a main loop. Nothing in it panics across its API: failures are
returned, joined per item, and emitted as capitan signals.

# Basic Usage

Build a Runtime and declare properties:

	rt, err := reflux.New(reflux.WithStore(store))
	score, _ := reflux.Declare(rt, "score", 0)
	volume, _ := reflux.DeclarePersistent(rt, "audio.volume", 0.8, reflux.Range(0.0, 1.0))

Read and write by key:

	reflux.Update(rt, "score", func(v int) int { return v + 10 })
	v, ok := reflux.Get[int](rt, "score")

Subscribe, optionally before the property exists:

	sub, _ := reflux.Watch(rt, "score", func(v int) { hud.Render(v) }, true)
	defer sub.Dispose()

# Validation

Validators run on every write in declaration order. Range clamps and
StringLength truncates; both reject what has no nearest valid value. Tag
validators use go-playground/validator and reject:

	name := reflux.NewProperty("anon",
	    reflux.StringLength(1, 16),
	    reflux.Tag[string]("alphanum"),
	)

# Components

Components are pointers to structs. Tagged fields become properties, and
optional interfaces hook into the Register, Awake and Start phases:

	type Player struct {
	    Health float64 `reflux:"player.health,persistent" range:"0,100"`
	    Label  *Label  `bind:"player.health,converter=percent"`
	}

	func (p *Player) Wire(w *reflux.Wiring) {
	    w.Event(p.onDamage, reflux.Priority(10))
	    w.OnChange("player.level", p.onLevel)
	}

	func (p *Player) Start(ctx context.Context) error { ... }

	err := rt.Load(ctx, player, hud)

Every component in a Load batch is registered before any is awake, and
awake before any is started.

# Events

Events embed EventMeta. Handlers run by descending priority, then in
subscription order:

	type Damaged struct {
	    reflux.EventMeta
	    Amount float64
	}

	reflux.Subscribe(rt.Bus(), func(ctx context.Context, e Damaged) error { ... })
	reflux.Publish(rt.MainContext(ctx), rt.Bus(), Damaged{Amount: 5})

Publishes from a context not marked with MainContext are queued and
delivered by the next Tick:

	for range ticker.C {
	    rt.Tick(ctx)
	}

# Persistence

Persistent properties are mirrored into a Store under "<prefix><key>". A
stored record overrides the in-code default before anyone observes it, and
every later change is written back. FileStore keeps records in one JSON or
YAML file, and SyncStore reloads them when the file is edited on disk:

	store, _ := reflux.NewFileStore("prefs.yaml")
	rt, _ := reflux.New(reflux.WithStore(store))
	go rt.SyncStore(ctx, nil)

# Observability

Signals are emitted through capitan. Hook them to log or count:

	capitan.Hook(reflux.PropertyRejected, func(ctx context.Context, e *capitan.Event) {
	    key, _ := reflux.KeyProperty.From(e)
	    log.Printf("rejected write to %s", key)
	})
*/
package reflux

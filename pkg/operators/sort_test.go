package operators

import (
	"fmt"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"l7mp.io/delta-collections/internal/testutils"
	"l7mp.io/delta-collections/pkg/aggregation"
	"l7mp.io/delta-collections/pkg/cache"
	"l7mp.io/delta-collections/pkg/changeset"
)

// replaySorted applies index-aware records to an ordered slice, mimicking a
// consumer that maintains its own copy from the records alone.
func replaySorted[T any, K comparable](prev []KeyValue[T, K], cs changeset.ChangeSet[T, K]) []KeyValue[T, K] {
	out := make([]KeyValue[T, K], len(prev))
	copy(out, prev)
	for _, c := range cs {
		switch c.Reason {
		case changeset.Add:
			out = append(out[:c.CurrentIndex],
				append([]KeyValue[T, K]{{Key: c.Key, Value: c.Current}}, out[c.CurrentIndex:]...)...)
		case changeset.Remove:
			out = append(out[:c.CurrentIndex], out[c.CurrentIndex+1:]...)
		case changeset.Update, changeset.Refresh:
			out[c.CurrentIndex] = KeyValue[T, K]{Key: c.Key, Value: c.Current}
		case changeset.Moved:
			kv := out[c.PreviousIndex]
			kv.Value = c.Current
			out = append(out[:c.PreviousIndex], out[c.PreviousIndex+1:]...)
			out = append(out[:c.CurrentIndex],
				append([]KeyValue[T, K]{kv}, out[c.CurrentIndex:]...)...)
		}
	}
	return out
}

var _ = Describe("Sort", func() {
	var people *cache.Cache[Person, string]

	BeforeEach(func() {
		people = newPeople()
	})

	AfterEach(func() {
		people.Dispose()
	})

	names := func(items []KeyValue[Person, string]) []string {
		out := make([]string, len(items))
		for i, kv := range items {
			out[i] = kv.Key
		}
		return out
	}

	It("should order the snapshot under the comparer", func() {
		Expect(people.AddOrUpdate(
			Person{Name: "carol", Age: 50},
			Person{Name: "alice", Age: 30},
			Person{Name: "bob", Age: 40},
		)).To(Succeed())

		coll := aggregation.NewCollector(Sort(people.Connect(), testutils.ByAge))
		defer coll.Dispose()

		last, ok := coll.Last()
		Expect(ok).To(BeTrue())
		Expect(names(last.Items)).To(Equal([]string{"alice", "bob", "carol"}))
	})

	It("should binary-search new arrivals into position", func() {
		coll := aggregation.NewCollector(Sort(people.Connect(), testutils.ByAge))
		defer coll.Dispose()

		Expect(people.AddOrUpdate(Person{Name: "alice", Age: 30})).To(Succeed())
		Expect(people.AddOrUpdate(Person{Name: "carol", Age: 50})).To(Succeed())
		Expect(people.AddOrUpdate(Person{Name: "bob", Age: 40})).To(Succeed())

		last, _ := coll.Last()
		add := last.Changes[0]
		Expect(add.Reason).To(Equal(changeset.Add))
		Expect(add.CurrentIndex).To(Equal(1))
		Expect(names(last.Items)).To(Equal([]string{"alice", "bob", "carol"}))
	})

	It("should report a reordering update as a move, not a remove/add pair", func() {
		Expect(people.AddOrUpdate(
			Person{Name: "alice", Age: 30},
			Person{Name: "bob", Age: 40},
			Person{Name: "carol", Age: 50},
		)).To(Succeed())

		coll := aggregation.NewCollector(Sort(people.Connect(), testutils.ByAge))
		defer coll.Dispose()

		// alice overtakes everyone
		Expect(people.AddOrUpdate(Person{Name: "alice", Age: 60})).To(Succeed())

		last, _ := coll.Last()
		Expect(last.Changes).To(HaveLen(1))
		move := last.Changes[0]
		Expect(move.Reason).To(Equal(changeset.Moved))
		Expect(move.PreviousIndex).To(BeZero())
		Expect(move.CurrentIndex).To(Equal(2))
		Expect(names(last.Items)).To(Equal([]string{"bob", "carol", "alice"}))
	})

	It("should report an order-preserving update in place", func() {
		Expect(people.AddOrUpdate(
			Person{Name: "alice", Age: 30},
			Person{Name: "bob", Age: 40},
		)).To(Succeed())

		coll := aggregation.NewCollector(Sort(people.Connect(), testutils.ByAge))
		defer coll.Dispose()

		Expect(people.AddOrUpdate(Person{Name: "alice", Age: 31})).To(Succeed())

		last, _ := coll.Last()
		Expect(last.Changes).To(HaveLen(1))
		Expect(last.Changes[0].Reason).To(Equal(changeset.Update))
		Expect(last.Changes[0].CurrentIndex).To(BeZero())
	})

	It("should emit indexed removes", func() {
		Expect(people.AddOrUpdate(
			Person{Name: "alice", Age: 30},
			Person{Name: "bob", Age: 40},
			Person{Name: "carol", Age: 50},
		)).To(Succeed())

		coll := aggregation.NewCollector(Sort(people.Connect(), testutils.ByAge))
		defer coll.Dispose()

		Expect(people.Remove("bob")).To(Succeed())

		last, _ := coll.Last()
		Expect(last.Changes[0].Reason).To(Equal(changeset.Remove))
		Expect(last.Changes[0].CurrentIndex).To(Equal(1))
		Expect(names(last.Items)).To(Equal([]string{"alice", "carol"}))
	})

	It("should keep ties in insertion order and never shuffle them", func() {
		Expect(people.AddOrUpdate(
			Person{Name: "first", Age: 40},
			Person{Name: "second", Age: 40},
			Person{Name: "third", Age: 40},
		)).To(Succeed())

		coll := aggregation.NewCollector(Sort(people.Connect(), testutils.ByAge))
		defer coll.Dispose()

		last, _ := coll.Last()
		Expect(names(last.Items)).To(Equal([]string{"first", "second", "third"}))

		// refreshing equal elements must not move anything
		before := coll.Values()
		Expect(people.RefreshAll()).To(Succeed())
		last, _ = coll.Last()
		Expect(names(last.Items)).To(Equal([]string{"first", "second", "third"}))
		for _, v := range coll.Values()[len(before):] {
			for _, c := range v.Changes {
				Expect(c.Reason).NotTo(Equal(changeset.Moved))
			}
		}
	})

	It("should relocate refreshed items mutated in place", func() {
		roster := cache.New(func(p *testutils.Person) string { return p.Name },
			cache.WithLogger(logger))
		defer roster.Dispose()

		byAge := func(a, b *testutils.Person) int { return a.Age - b.Age }
		members := make([]*testutils.Person, 8)
		for i := range members {
			members[i] = &testutils.Person{Name: fmt.Sprintf("m%d", i), Age: (i + 1) * 10}
		}
		Expect(roster.AddOrUpdate(members...)).To(Succeed())

		coll := aggregation.NewCollector(Sort(roster.Connect(), byAge))
		defer coll.Dispose()
		before, _ := coll.Last()

		// the sort keys change behind the stream's back
		members[1].Age = 75
		members[6].Age = 5
		Expect(roster.Refresh("m1", "m6")).To(Succeed())

		last, _ := coll.Last()
		Expect(last.Changes).To(HaveLen(2))
		for _, c := range last.Changes {
			Expect(c.Reason).To(Equal(changeset.Moved))
		}

		// the projection matches a full re-sort, nothing dropped or doubled
		Expect(last.Items).To(HaveLen(len(members)))
		seen := map[string]bool{}
		for i, kv := range last.Items {
			Expect(seen[kv.Key]).To(BeFalse())
			seen[kv.Key] = true
			if i > 0 {
				Expect(last.Items[i-1].Value.Age).To(BeNumerically("<=", kv.Value.Age))
			}
		}

		replayed := replaySorted(before.Items, last.Changes)
		for i, kv := range replayed {
			Expect(kv.Key).To(Equal(last.Items[i].Key))
		}
	})

	It("should let replayed records reconstruct every snapshot", func() {
		coll := aggregation.NewCollector(Sort(people.Connect(), testutils.ByAge,
			SortOptions{ResetThreshold: -1}))
		defer coll.Dispose()

		rng := rand.New(rand.NewSource(42))
		for i := 0; i < 40; i++ {
			name := fmt.Sprintf("p%02d", rng.Intn(20))
			switch rng.Intn(4) {
			case 0:
				Expect(people.Remove(name)).To(Succeed())
			case 1:
				Expect(people.Refresh(name)).To(Succeed())
			default:
				Expect(people.AddOrUpdate(Person{Name: name, Age: rng.Intn(50)})).To(Succeed())
			}
		}

		var replayed []KeyValue[Person, string]
		for _, v := range coll.Values() {
			replayed = replaySorted(replayed, v.Changes)
			Expect(names(replayed)).To(Equal(names(v.Items)))
		}
	})

	Describe("reset threshold", func() {
		It("should emit a remove-all/add-all reset for large batches", func() {
			Expect(people.AddOrUpdate(
				Person{Name: "alice", Age: 30},
				Person{Name: "bob", Age: 40},
			)).To(Succeed())

			coll := aggregation.NewCollector(Sort(people.Connect(), testutils.ByAge,
				SortOptions{ResetThreshold: 3}))
			defer coll.Dispose()

			batch := make([]Person, 5)
			for i := range batch {
				batch[i] = Person{Name: fmt.Sprintf("n%d", i), Age: 100 - i}
			}
			Expect(people.AddOrUpdate(batch...)).To(Succeed())

			last, _ := coll.Last()
			s := last.Changes.Summary()
			Expect(s.Removes).To(Equal(2)) // snapshot arrived below the threshold
			Expect(s.Adds).To(Equal(7))
			Expect(s.Moves).To(BeZero())
			Expect(last.Items).To(HaveLen(7))

			// the replay property holds across the reset too
			var replayed []KeyValue[Person, string]
			for _, v := range coll.Values() {
				replayed = replaySorted(replayed, v.Changes)
			}
			Expect(names(replayed)).To(Equal(names(last.Items)))
		})

		It("should keep a batch of exactly the threshold itemized", func() {
			Expect(people.AddOrUpdate(
				Person{Name: "alice", Age: 30},
				Person{Name: "bob", Age: 40},
			)).To(Succeed())

			coll := aggregation.NewCollector(Sort(people.Connect(), testutils.ByAge,
				SortOptions{ResetThreshold: 3}))
			defer coll.Dispose()

			Expect(people.AddOrUpdate(
				Person{Name: "carol", Age: 50},
				Person{Name: "dave", Age: 60},
				Person{Name: "erin", Age: 70},
			)).To(Succeed())

			// a reset would re-announce the prior items as removes
			last, _ := coll.Last()
			s := last.Changes.Summary()
			Expect(s.Removes).To(BeZero())
			Expect(s.Adds).To(Equal(3))
		})

		It("should handle a bulk load followed by itemized churn", func() {
			coll := aggregation.NewCollector(Sort(people.Connect(), testutils.ByAge))
			defer coll.Dispose()

			batch := make([]Person, 1000)
			for i := range batch {
				batch[i] = Person{Name: fmt.Sprintf("p%04d", i), Age: (i * 7919) % 10000}
			}
			Expect(people.AddOrUpdate(batch...)).To(Succeed())

			last, _ := coll.Last()
			Expect(last.Items).To(HaveLen(1000))
			for i := 1; i < len(last.Items); i++ {
				Expect(last.Items[i-1].Value.Age).To(BeNumerically("<=", last.Items[i].Value.Age))
			}

			// small follow-up edits take the itemized path
			before := coll.Values()
			Expect(people.AddOrUpdate(Person{Name: "p0001", Age: 20000})).To(Succeed())
			after := coll.Values()
			Expect(after).To(HaveLen(len(before) + 1))
			cs := after[len(after)-1].Changes
			Expect(cs).To(HaveLen(1))
			Expect(cs[0].Reason).To(Equal(changeset.Moved))
			Expect(cs[0].CurrentIndex).To(Equal(999))
		})
	})

	Describe("moves as remove/add", func() {
		It("should rewrite moves for consumers without a move concept", func() {
			Expect(people.AddOrUpdate(
				Person{Name: "alice", Age: 30},
				Person{Name: "bob", Age: 40},
			)).To(Succeed())

			coll := aggregation.NewCollector(Sort(people.Connect(), testutils.ByAge,
				SortOptions{MovesAsRemoveAdd: true}))
			defer coll.Dispose()

			Expect(people.AddOrUpdate(Person{Name: "alice", Age: 60})).To(Succeed())

			last, _ := coll.Last()
			Expect(last.Changes).To(HaveLen(2))
			Expect(last.Changes[0].Reason).To(Equal(changeset.Remove))
			Expect(last.Changes[0].CurrentIndex).To(BeZero())
			Expect(last.Changes[1].Reason).To(Equal(changeset.Add))
			Expect(last.Changes[1].CurrentIndex).To(Equal(1))
		})
	})
})

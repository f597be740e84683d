package catalogs

import "github.com/go-gl/mathgl/mgl64"

const DefaultSceneID = "Level_GroundZero_Main"

func DefaultItems() []ItemDef {
	item := func(id, name string, cat ItemCategory, stack int) ItemDef {
		return ItemDef{ID: id, Name: name, Category: cat, StackSize: stack, Weight: 0.1, Value: 100}
	}
	return []ItemDef{
		item("ammo_9mm", "9mm Ammo", CategoryAmmo, 60),
		item("ammo_762", "7.62mm Ammo", CategoryAmmo, 30),
		item("ammo_12g", "12 Gauge", CategoryAmmo, 20),
		item("med_bandage", "Bandage", CategoryMedical, 5),
		item("med_medkit", "Medkit", CategoryMedical, 1),
		item("food_bread", "Bread", CategoryFood, 3),
		item("weapon_pistol", "Pistol", CategoryWeapon, 1),
		item("weapon_rifle", "Rifle", CategoryWeapon, 1),
		item("armor_vest", "Armor Vest", CategoryArmor, 1),
		item("helmet_basic", "Basic Helmet", CategoryArmor, 1),
	}
}

func DefaultScene() Scene {
	scav := func(id int32, pos mgl64.Vec3) AISpawn {
		s := DefaultAISpawn()
		s.SpawnerID = id
		s.Position = pos
		return s
	}
	return Scene{
		SceneID:     DefaultSceneID,
		DisplayName: "Ground Zero",
		AISpawns: []AISpawn{
			scav(1, mgl64.Vec3{10, 0, 10}),
			scav(2, mgl64.Vec3{-10, 0, 15}),
			scav(3, mgl64.Vec3{20, 0, -5}),
		},
		LootSpawns: []LootSpawn{
			{
				SpawnerID:     1,
				Position:      mgl64.Vec3{5, 0, 5},
				ContainerType: "crate",
				MinItems:      1,
				MaxItems:      3,
				RespawnTime:   600,
				LootTable: []LootEntry{
					{ItemID: "ammo_9mm", Chance: 40, MinCount: 10, MaxCount: 30},
					{ItemID: "med_bandage", Chance: 30, MinCount: 1, MaxCount: 2},
					{ItemID: "food_bread", Chance: 20, MinCount: 1, MaxCount: 1},
				},
			},
			{
				SpawnerID:     2,
				Position:      mgl64.Vec3{-5, 0, -5},
				ContainerType: "cabinet",
				MinItems:      1,
				MaxItems:      2,
				RespawnTime:   600,
			},
		},
		PlayerSpawns: []mgl64.Vec3{{0, 0, 0}, {2, 0, 0}, {-2, 0, 0}, {0, 0, 2}},
	}
}
